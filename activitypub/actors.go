package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"tusker/db"
	"tusker/domain"
	"tusker/util"
)

const actorCacheTTL = 24 * time.Hour

// ActorDocument is the canonical ActivityPub representation of an actor,
// used both to render the local actor and to parse remote ones.
type ActorDocument struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	URL               string      `json:"url,omitempty"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox,omitempty"`
	Followers         string      `json:"followers,omitempty"`
	Following         string      `json:"following,omitempty"`

	ManuallyApprovesFollowers bool `json:"manuallyApprovesFollowers"`
	Discoverable              bool `json:"discoverable"`

	Icon      *ActorImage     `json:"icon,omitempty"`
	Image     *ActorImage     `json:"image,omitempty"`
	Endpoints *ActorEndpoints `json:"endpoints,omitempty"`

	PublicKey ActorPublicKey `json:"publicKey"`
}

type ActorImage struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url"`
}

type ActorEndpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

type ActorPublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// webfingerResponse is the directory discovery document.
type webfingerResponse struct {
	Subject string `json:"subject"`
	Links   []struct {
		Rel  string `json:"rel"`
		Type string `json:"type"`
		Href string `json:"href"`
	} `json:"links"`
}

// Resolver maps actor identifiers to actor documents: deterministically for
// the local account, via WebFinger discovery and dereference (cached with a
// TTL) for remote ones.
type Resolver struct {
	store  *db.DB
	keys   *KeyStore
	conf   *util.AppConfig
	client *http.Client
}

func NewResolver(store *db.DB, keys *KeyStore, conf *util.AppConfig) *Resolver {
	return &Resolver{
		store:  store,
		keys:   keys,
		conf:   conf,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// ResolveLocalActor builds the actor document for a local account from its
// record plus the key store's active public key.
func (r *Resolver) ResolveLocalActor(username string) (*ActorDocument, error) {
	acc, err := r.store.ReadAccByUsername(username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("local actor %s: %w", username, ErrNotFound)
		}
		return nil, err
	}

	primary, err := r.keys.Primary(username)
	if err != nil {
		return nil, err
	}

	dom := r.conf.Conf.Domain
	actorURI := ActorURI(dom, username)

	displayName := acc.DisplayName
	if displayName == "" {
		displayName = acc.Username
	}

	doc := &ActorDocument{
		Context: []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		ID:                actorURI,
		Type:              "Person",
		PreferredUsername: acc.Username,
		Name:              displayName,
		Summary:           acc.Summary,
		URL:               actorURI,
		Inbox:             InboxURI(dom, username),
		Outbox:            OutboxURI(dom, username),
		Followers:         FollowersURI(dom, username),
		Following:         FollowingURI(dom, username),
		Discoverable:      true,
		Endpoints:         &ActorEndpoints{SharedInbox: SharedInboxURI(dom)},
		PublicKey: ActorPublicKey{
			ID:           MainKeyURI(dom, username),
			Owner:        actorURI,
			PublicKeyPem: primary.PublicPem,
		},
	}
	if acc.AvatarURL != "" {
		doc.Icon = &ActorImage{Type: "Image", URL: acc.AvatarURL}
	}
	if acc.HeaderURL != "" {
		doc.Image = &ActorImage{Type: "Image", URL: acc.HeaderURL}
	}
	return doc, nil
}

// ResolveRemoteActor resolves an actor URI or a "name@domain" handle to a
// cached remote account, discovering and dereferencing as needed.
func (r *Resolver) ResolveRemoteActor(ctx context.Context, ref string) (*domain.RemoteAccount, error) {
	actorURI := ref
	if name, dom, ok := SplitHandle(ref); ok {
		var err error
		actorURI, err = r.discover(ctx, name, dom)
		if err != nil {
			return nil, err
		}
	}

	cached, err := r.store.ReadRemoteAccountByURI(actorURI)
	if err == nil && time.Since(cached.LastFetchedAt) < actorCacheTTL {
		return cached, nil
	}

	return r.fetchRemoteActor(ctx, actorURI)
}

// discover performs WebFinger directory lookup for name@domain and returns
// the canonical actor URI from the self link.
func (r *Resolver) discover(ctx context.Context, name, dom string) (string, error) {
	wfURL := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s",
		dom, url.QueryEscape(fmt.Sprintf("acct:%s@%s", name, dom)))

	req, err := http.NewRequestWithContext(ctx, "GET", wfURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create webfinger request: %w", err)
	}
	req.Header.Set("Accept", "application/jrd+json, application/json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("webfinger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("webfinger lookup for %s@%s returned %d: %w", name, dom, resp.StatusCode, ErrNotFound)
	}

	var wf webfingerResponse
	if err := json.NewDecoder(resp.Body).Decode(&wf); err != nil {
		return "", fmt.Errorf("failed to parse webfinger response: %w", err)
	}

	for _, link := range wf.Links {
		if link.Rel == "self" && link.Href != "" {
			return link.Href, nil
		}
	}
	return "", fmt.Errorf("webfinger response for %s@%s has no self link: %w", name, dom, ErrMalformed)
}

// fetchRemoteActor dereferences the actor URI and refreshes the cache.
func (r *Resolver) fetchRemoteActor(ctx context.Context, actorURI string) (*domain.RemoteAccount, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch returned %d: %w", resp.StatusCode, ErrNotFound)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var actor ActorDocument
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor %s missing required fields: %w", actorURI, ErrMalformed)
	}

	domainName, err := ActorDomain(actor.ID)
	if err != nil {
		return nil, err
	}

	remoteAcc := &domain.RemoteAccount{
		Id:            uuid.New(),
		Username:      actor.PreferredUsername,
		Domain:        domainName,
		ActorURI:      actor.ID,
		DisplayName:   actor.Name,
		Summary:       actor.Summary,
		InboxURI:      actor.Inbox,
		OutboxURI:     actor.Outbox,
		PublicKeyPem:  actor.PublicKey.PublicKeyPem,
		LastFetchedAt: time.Now(),
	}
	if actor.Icon != nil {
		remoteAcc.AvatarURL = actor.Icon.URL
	}
	if actor.Endpoints != nil {
		remoteAcc.SharedInboxURI = actor.Endpoints.SharedInbox
	}

	if err := r.store.UpsertRemoteAccount(remoteAcc); err != nil {
		return nil, fmt.Errorf("failed to cache remote account: %w", err)
	}

	return remoteAcc, nil
}
