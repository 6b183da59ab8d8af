package activitypub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"tusker/db"
	"tusker/domain"
	"tusker/util"
)

// Federation bundles the key store, resolver, sender, and record store into
// one explicit context that is constructed once and passed to every handler.
type Federation struct {
	Store    *db.DB
	Keys     *KeyStore
	Resolver *Resolver
	Sender   Sender
	Conf     *util.AppConfig
	Log      *log.Logger
}

func New(store *db.DB, conf *util.AppConfig, logger *log.Logger) *Federation {
	keys := NewKeyStore(store)
	resolver := NewResolver(store, keys, conf)
	deliverer := NewDeliverer(store, keys, resolver, conf, logger)

	if conf.Conf.SkipVerify {
		logger.Warn("HTTP signature verification is DISABLED (skipVerify) - inbound activities are NOT authenticated")
	}

	return &Federation{
		Store:    store,
		Keys:     keys,
		Resolver: resolver,
		Sender:   deliverer,
		Conf:     conf,
		Log:      logger,
	}
}

// LocalActorURI returns the canonical URI of a local account.
func (f *Federation) LocalActorURI(username string) string {
	return ActorURI(f.Conf.Conf.Domain, username)
}

// SendFollow follows a remote actor (URI or name@domain handle). The edge is
// recorded immediately; this server treats its own follows as effective
// without waiting for the remote Accept.
func (f *Federation) SendFollow(ctx context.Context, username, targetRef string) error {
	target, err := f.Resolver.ResolveRemoteActor(ctx, targetRef)
	if err != nil {
		return fmt.Errorf("failed to resolve follow target %s: %w", targetRef, err)
	}

	localURI := f.LocalActorURI(username)
	follow := NewFollow(f.Conf.Conf.Domain, localURI, target.ActorURI)

	edge := &domain.FollowEdge{
		Id:           uuid.New(),
		FollowerURI:  localURI,
		FollowingURI: target.ActorURI,
		ActivityURI:  follow.ID,
		CreatedAt:    time.Now(),
	}
	if _, err := f.Store.UpsertFollow(edge); err != nil {
		return fmt.Errorf("failed to store follow: %w", err)
	}

	return f.Sender.Send(ctx, username, []string{target.ActorURI}, follow)
}

// SendUndoFollow unfollows a remote actor. Undoing an absent follow is a
// local no-op and nothing is delivered.
func (f *Federation) SendUndoFollow(ctx context.Context, username, targetRef string) error {
	target, err := f.Resolver.ResolveRemoteActor(ctx, targetRef)
	if err != nil {
		return fmt.Errorf("failed to resolve unfollow target %s: %w", targetRef, err)
	}

	localURI := f.LocalActorURI(username)
	edge, err := f.Store.ReadFollow(localURI, target.ActorURI)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to read follow: %w", err)
	}

	if err := f.Store.DeleteFollow(localURI, target.ActorURI); err != nil {
		return fmt.Errorf("failed to delete follow: %w", err)
	}

	undo := NewUndo(f.Conf.Conf.Domain, localURI, map[string]interface{}{
		"id":     edge.ActivityURI,
		"type":   "Follow",
		"actor":  localURI,
		"object": target.ActorURI,
	})
	return f.Sender.Send(ctx, username, []string{target.ActorURI}, undo)
}

// PublishNote stores a local note and federates it to the current followers.
func (f *Federation) PublishNote(ctx context.Context, username, message string) (*domain.Note, error) {
	acc, err := f.Store.ReadAccByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}

	note, err := f.Store.CreateNote(acc.Id, message)
	if err != nil {
		return nil, fmt.Errorf("failed to store note: %w", err)
	}
	note.CreatedBy = username

	create := NewCreateNote(f.Conf.Conf.Domain, username, note)
	if err := f.Sender.Send(ctx, username, []string{RecipientFollowers}, create); err != nil {
		// The note is the source of truth; delivery trouble is logged, not
		// propagated back to the author.
		f.Log.Error("failed to federate note", "note", note.Id, "err", err)
	}
	return note, nil
}

// SendLike likes a remote object and notifies its author when known.
func (f *Federation) SendLike(ctx context.Context, username, objectURI string) error {
	return f.sendEngagement(ctx, username, objectURI, domain.EngagementLike)
}

// SendAnnounce boosts a remote object to this actor's followers.
func (f *Federation) SendAnnounce(ctx context.Context, username, objectURI string) error {
	return f.sendEngagement(ctx, username, objectURI, domain.EngagementAnnounce)
}

func (f *Federation) sendEngagement(ctx context.Context, username, objectURI string, kind domain.EngagementKind) error {
	localURI := f.LocalActorURI(username)

	var env *Envelope
	if kind == domain.EngagementAnnounce {
		env = NewAnnounce(f.Conf.Conf.Domain, username, objectURI)
	} else {
		env = NewLike(f.Conf.Conf.Domain, localURI, objectURI)
	}

	edge := &domain.EngagementEdge{
		Id:          uuid.New(),
		Kind:        kind,
		ActorURI:    localURI,
		ObjectURI:   objectURI,
		ActivityURI: env.ID,
		CreatedAt:   time.Now(),
	}
	if _, err := f.Store.UpsertEngagement(edge); err != nil {
		return fmt.Errorf("failed to store %s: %w", kind, err)
	}

	return f.Sender.Send(ctx, username, f.engagementRecipients(objectURI, kind), env)
}

// SendUndoLike removes a like and notifies the same audience.
func (f *Federation) SendUndoLike(ctx context.Context, username, objectURI string) error {
	return f.sendUndoEngagement(ctx, username, objectURI, domain.EngagementLike)
}

func (f *Federation) SendUndoAnnounce(ctx context.Context, username, objectURI string) error {
	return f.sendUndoEngagement(ctx, username, objectURI, domain.EngagementAnnounce)
}

func (f *Federation) sendUndoEngagement(ctx context.Context, username, objectURI string, kind domain.EngagementKind) error {
	localURI := f.LocalActorURI(username)

	if err := f.Store.DeleteEngagement(kind, localURI, objectURI); err != nil {
		return fmt.Errorf("failed to delete %s: %w", kind, err)
	}

	undo := NewUndo(f.Conf.Conf.Domain, localURI, map[string]interface{}{
		"type":   string(kind),
		"actor":  localURI,
		"object": objectURI,
	})
	return f.Sender.Send(ctx, username, f.engagementRecipients(objectURI, kind), undo)
}

// engagementRecipients picks who hears about an engagement: the object's
// author when the post is known locally, plus followers for announces.
func (f *Federation) engagementRecipients(objectURI string, kind domain.EngagementKind) []string {
	var recipients []string
	if post, err := f.Store.ReadRemotePostByURI(objectURI); err == nil {
		recipients = append(recipients, post.ActorURI)
	}
	if kind == domain.EngagementAnnounce {
		recipients = append(recipients, RecipientFollowers)
	}
	return recipients
}
