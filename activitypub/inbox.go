package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"tusker/domain"
)

// InboundActivity is a parsed inbound envelope with the nested object's
// discriminators extracted up front, so handlers dispatch on explicit kind
// fields instead of re-inspecting raw JSON.
type InboundActivity struct {
	ID    string
	Type  string
	Actor string

	// Object discriminators. ObjectID/ObjectType describe the direct object;
	// ObjectActor and ObjectTarget come from an embedded activity object
	// (the Follow inside an Undo, the Note URI inside an undone Like).
	ObjectID     string
	ObjectType   string
	ObjectActor  string
	ObjectTarget string
	RawObject    json.RawMessage

	Body      []byte
	LocalUser string
	Sender    *domain.RemoteAccount
}

type inboundHandler func(ctx context.Context, f *Federation, act *InboundActivity) error

// Dispatch tables. Unknown activity types are accepted and ignored per
// protocol convention; for Undo the nested object's type picks the handler.
var activityHandlers = map[string]inboundHandler{
	"Follow":   handleFollow,
	"Undo":     handleUndo,
	"Create":   handleCreate,
	"Like":     handleLike,
	"Announce": handleAnnounce,
	"Accept":   handleAccept,
	"Delete":   handleDelete,
}

var undoHandlers = map[string]inboundHandler{
	"Follow":   handleUndoFollow,
	"Like":     handleUndoLike,
	"Announce": handleUndoAnnounce,
}

// parseInbound validates the envelope and extracts object discriminators.
func parseInbound(body []byte) (*InboundActivity, error) {
	var env struct {
		ID     string          `json:"id"`
		Type   string          `json:"type"`
		Actor  string          `json:"actor"`
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unparseable activity: %w", ErrMalformed)
	}
	if env.Type == "" || env.Actor == "" {
		return nil, fmt.Errorf("activity missing type or actor: %w", ErrMalformed)
	}

	act := &InboundActivity{
		ID:        env.ID,
		Type:      env.Type,
		Actor:     env.Actor,
		RawObject: env.Object,
		Body:      body,
	}

	if len(env.Object) > 0 {
		var uri string
		if err := json.Unmarshal(env.Object, &uri); err == nil {
			act.ObjectID = uri
		} else {
			var obj struct {
				ID     string      `json:"id"`
				Type   string      `json:"type"`
				Actor  string      `json:"actor"`
				Object interface{} `json:"object"`
			}
			if err := json.Unmarshal(env.Object, &obj); err == nil {
				act.ObjectID = obj.ID
				act.ObjectType = obj.Type
				act.ObjectActor = obj.Actor
				switch target := obj.Object.(type) {
				case string:
					act.ObjectTarget = target
				case map[string]interface{}:
					if id, ok := target["id"].(string); ok {
						act.ObjectTarget = id
					}
				}
			}
		}
	}

	return act, nil
}

// HandleInbox authenticates and processes one inbound activity. Handler
// effects are applied before the response is written.
func (f *Federation) HandleInbox(w http.ResponseWriter, r *http.Request, username string) {
	ctx := r.Context()

	signature := r.Header.Get("Signature")
	if signature == "" && !f.Conf.Conf.SkipVerify {
		f.Log.Warn("inbox: missing HTTP signature", "user", username)
		http.Error(w, "Missing signature", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	act, err := parseInbound(body)
	if err != nil {
		f.Log.Warn("inbox: rejected activity", "err", err)
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}
	act.LocalUser = username

	f.Log.Info("inbox: received activity", "type", act.Type, "actor", act.Actor, "user", username)

	// The claimed signer's document provides the verification key. A signer
	// we cannot resolve cannot be authenticated.
	sender, err := f.Resolver.ResolveRemoteActor(ctx, act.Actor)
	if err != nil {
		f.Log.Warn("inbox: failed to resolve signer", "actor", act.Actor, "err", err)
		http.Error(w, "Failed to verify actor", http.StatusUnauthorized)
		return
	}
	act.Sender = sender

	if !f.Conf.Conf.SkipVerify {
		signerURI, err := VerifyRequest(r, sender.PublicKeyPem)
		if err != nil {
			f.Log.Warn("inbox: signature verification failed", "actor", act.Actor, "err", err)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
		if signerURI != sender.ActorURI {
			f.Log.Warn("inbox: signature key owner mismatch", "keyOwner", signerURI, "actor", sender.ActorURI)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
	}

	handler, ok := activityHandlers[act.Type]
	if !ok {
		f.Log.Debug("inbox: ignoring unsupported activity type", "type", act.Type)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := handler(ctx, f, act); err != nil {
		if errors.Is(err, ErrMalformed) {
			f.Log.Warn("inbox: malformed activity", "type", act.Type, "err", err)
			http.Error(w, "Invalid activity", http.StatusBadRequest)
			return
		}
		f.Log.Error("inbox: handler failed", "type", act.Type, "err", err)
		http.Error(w, "Failed to process activity", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleFollow upserts the follow edge and synchronously answers with an
// Accept. Re-delivery of the same Follow changes nothing but is still
// acknowledged, in case the remote missed the first Accept.
func handleFollow(ctx context.Context, f *Federation, act *InboundActivity) error {
	if act.ObjectID == "" {
		return fmt.Errorf("follow missing object: %w", ErrMalformed)
	}

	localURI := ActorURI(f.Conf.Conf.Domain, act.LocalUser)
	edge := &domain.FollowEdge{
		Id:           uuid.New(),
		FollowerURI:  act.Actor,
		FollowingURI: localURI,
		ActivityURI:  act.ID,
		CreatedAt:    time.Now(),
	}
	created, err := f.Store.UpsertFollow(edge)
	if err != nil {
		return fmt.Errorf("failed to store follow: %w", err)
	}
	if created {
		f.Log.Info("inbox: new follower", "follower", act.Actor, "user", act.LocalUser)
	}

	accept := NewAccept(f.Conf.Conf.Domain, localURI, act.ID, act.Actor)
	if err := f.Sender.Send(ctx, act.LocalUser, []string{act.Actor}, accept); err != nil {
		return fmt.Errorf("failed to send Accept: %w", err)
	}
	return nil
}

func handleUndo(ctx context.Context, f *Federation, act *InboundActivity) error {
	if len(act.RawObject) == 0 {
		return fmt.Errorf("undo missing object: %w", ErrMalformed)
	}
	handler, ok := undoHandlers[act.ObjectType]
	if !ok {
		f.Log.Debug("inbox: ignoring undo of unsupported type", "objectType", act.ObjectType)
		return nil
	}
	return handler(ctx, f, act)
}

func handleUndoFollow(_ context.Context, f *Federation, act *InboundActivity) error {
	// The undone Follow's id pins the exact edge; fall back to the actor pair
	// when the remote omits it. Absence of the edge is not an error.
	if act.ObjectID != "" {
		if err := f.Store.DeleteFollowByActivityURI(act.ObjectID); err != nil {
			return fmt.Errorf("failed to delete follow: %w", err)
		}
	} else {
		follower := act.ObjectActor
		if follower == "" {
			follower = act.Actor
		}
		localURI := ActorURI(f.Conf.Conf.Domain, act.LocalUser)
		if err := f.Store.DeleteFollow(follower, localURI); err != nil {
			return fmt.Errorf("failed to delete follow: %w", err)
		}
	}
	f.Log.Info("inbox: follower removed", "actor", act.Actor, "user", act.LocalUser)
	return nil
}

// handleLike records the engagement even when the target object is unknown
// locally; the target may be a remote object this server does not mirror.
func handleLike(_ context.Context, f *Federation, act *InboundActivity) error {
	return upsertEngagement(f, act, domain.EngagementLike)
}

func handleAnnounce(_ context.Context, f *Federation, act *InboundActivity) error {
	return upsertEngagement(f, act, domain.EngagementAnnounce)
}

func upsertEngagement(f *Federation, act *InboundActivity, kind domain.EngagementKind) error {
	if act.ObjectID == "" {
		return fmt.Errorf("%s missing object: %w", kind, ErrMalformed)
	}
	edge := &domain.EngagementEdge{
		Id:          uuid.New(),
		Kind:        kind,
		ActorURI:    act.Actor,
		ObjectURI:   act.ObjectID,
		ActivityURI: act.ID,
		CreatedAt:   time.Now(),
	}
	if _, err := f.Store.UpsertEngagement(edge); err != nil {
		return fmt.Errorf("failed to store %s: %w", kind, err)
	}
	return nil
}

func handleUndoLike(_ context.Context, f *Federation, act *InboundActivity) error {
	return deleteEngagement(f, act, domain.EngagementLike)
}

func handleUndoAnnounce(_ context.Context, f *Federation, act *InboundActivity) error {
	return deleteEngagement(f, act, domain.EngagementAnnounce)
}

func deleteEngagement(f *Federation, act *InboundActivity, kind domain.EngagementKind) error {
	objectURI := act.ObjectTarget
	if objectURI == "" {
		// Without the undone activity's target there is no edge to match;
		// treat like undoing an absent edge.
		return nil
	}
	if err := f.Store.DeleteEngagement(kind, act.Actor, objectURI); err != nil {
		return fmt.Errorf("failed to delete %s: %w", kind, err)
	}
	return nil
}

// handleCreate ingests Create(Note) as a remote post; any other inner object
// type is ignored.
func handleCreate(_ context.Context, f *Federation, act *InboundActivity) error {
	if len(act.RawObject) == 0 {
		return fmt.Errorf("create missing object: %w", ErrMalformed)
	}
	if act.ObjectType != "Note" {
		f.Log.Debug("inbox: ignoring create of unsupported type", "objectType", act.ObjectType)
		return nil
	}

	var note struct {
		ID           string `json:"id"`
		Content      string `json:"content"`
		Published    string `json:"published"`
		AttributedTo string `json:"attributedTo"`
	}
	if err := json.Unmarshal(act.RawObject, &note); err != nil {
		return fmt.Errorf("unparseable note object: %w", ErrMalformed)
	}
	if note.ID == "" {
		return fmt.Errorf("note missing id: %w", ErrMalformed)
	}

	published, err := time.Parse(time.RFC3339, note.Published)
	if err != nil {
		published = time.Now()
	}

	post := &domain.RemotePost{
		Id:        uuid.New(),
		ObjectURI: note.ID,
		ActorURI:  act.Actor,
		Content:   note.Content,
		Published: published,
		CreatedAt: time.Now(),
	}
	created, err := f.Store.UpsertRemotePost(post)
	if err != nil {
		return fmt.Errorf("failed to store remote post: %w", err)
	}
	if created {
		f.Log.Info("inbox: ingested remote post", "object", note.ID, "actor", act.Actor)
	}
	return nil
}

// handleAccept acknowledges a remote Accept of our Follow. Outbound follow
// edges are recorded when the Follow is sent, so there is nothing to update.
func handleAccept(_ context.Context, f *Federation, act *InboundActivity) error {
	f.Log.Info("inbox: follow accepted", "actor", act.Actor, "follow", act.ObjectID)
	return nil
}

// handleDelete acknowledges without tombstoning; cached remote data ages
// out on its own.
func handleDelete(_ context.Context, f *Federation, act *InboundActivity) error {
	f.Log.Debug("inbox: acknowledged delete", "actor", act.Actor, "object", act.ObjectID)
	return nil
}
