package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"tusker/db"
	"tusker/util"
)

// RecipientFollowers is the logical recipient that expands to the current
// follower set at send time.
const RecipientFollowers = "followers"

// Sender delivers an activity to recipients on behalf of a local actor.
// Inbound handlers depend on this interface so tests can substitute a fake.
type Sender interface {
	Send(ctx context.Context, username string, recipients []string, env *Envelope) error
}

// Deliverer signs and delivers activities with bounded-concurrency fan-out
// and per-recipient retry. Delivery is best-effort: local state is the
// source of truth and a failed recipient is logged and dropped, never
// propagated back into state.
type Deliverer struct {
	store    *db.DB
	keys     *KeyStore
	resolver *Resolver
	conf     *util.AppConfig
	client   *http.Client
	log      *log.Logger

	maxInflight    int
	maxAttempts    int
	baseBackoff    time.Duration
	attemptTimeout time.Duration
}

func NewDeliverer(store *db.DB, keys *KeyStore, resolver *Resolver, conf *util.AppConfig, logger *log.Logger) *Deliverer {
	return &Deliverer{
		store:          store,
		keys:           keys,
		resolver:       resolver,
		conf:           conf,
		client:         &http.Client{Timeout: 30 * time.Second},
		log:            logger,
		maxInflight:    conf.Conf.MaxInflight,
		maxAttempts:    conf.Conf.MaxAttempts,
		baseBackoff:    time.Second,
		attemptTimeout: 30 * time.Second,
	}
}

// Send builds the signed request for env and delivers it to every resolved
// recipient inbox concurrently. An error return means delivery could not be
// attempted at all (missing key, marshal failure); individual recipient
// failures are retried, then logged and dropped.
func (d *Deliverer) Send(ctx context.Context, username string, recipients []string, env *Envelope) error {
	primary, err := d.keys.Primary(username)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	privateKey, err := ParsePrivateKey(primary.PrivatePem)
	if err != nil {
		return fmt.Errorf("failed to parse signing key: %w", err)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	inboxes := d.expandRecipients(ctx, username, recipients)
	if len(inboxes) == 0 {
		d.log.Debug("no recipients to deliver to", "activity", env.Type, "actor", username)
		return nil
	}

	keyID := MainKeyURI(d.conf.Conf.Domain, username)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxInflight)
	for _, inboxURI := range inboxes {
		g.Go(func() error {
			if err := d.deliverWithRetry(gctx, inboxURI, body, privateKey, keyID); err != nil {
				d.log.Error("dropping delivery", "inbox", inboxURI, "activity", env.Type, "err", err)
			}
			return nil
		})
	}
	g.Wait()
	return nil
}

// expandRecipients resolves logical and direct recipients to inbox URIs,
// deduplicated so servers with a shared inbox get one delivery regardless of
// how many of their actors are addressed.
func (d *Deliverer) expandRecipients(ctx context.Context, username string, recipients []string) []string {
	seen := make(map[string]struct{})
	var inboxes []string
	add := func(inboxURI string) {
		if inboxURI == "" {
			return
		}
		if _, dup := seen[inboxURI]; dup {
			return
		}
		seen[inboxURI] = struct{}{}
		inboxes = append(inboxes, inboxURI)
	}

	for _, recipient := range recipients {
		if recipient == RecipientFollowers {
			// Read-through: the edge set as of now, not a snapshot taken
			// when the triggering action happened.
			localURI := ActorURI(d.conf.Conf.Domain, username)
			edges, err := d.store.ReadAllFollowers(localURI)
			if err != nil {
				d.log.Error("failed to read followers for fan-out", "actor", username, "err", err)
				continue
			}
			for _, edge := range edges {
				acc, err := d.resolver.ResolveRemoteActor(ctx, edge.FollowerURI)
				if err != nil {
					d.log.Warn("skipping unresolvable follower", "actor", edge.FollowerURI, "err", err)
					continue
				}
				if acc.SharedInboxURI != "" {
					add(acc.SharedInboxURI)
				} else {
					add(acc.InboxURI)
				}
			}
			continue
		}

		acc, err := d.resolver.ResolveRemoteActor(ctx, recipient)
		if err != nil {
			d.log.Warn("skipping unresolvable recipient", "recipient", recipient, "err", err)
			continue
		}
		add(acc.InboxURI)
	}
	return inboxes
}

// deliverWithRetry attempts one inbox with exponential backoff between
// attempts. Each attempt gets its own timeout, distinct from the overall
// retry budget carried by ctx.
func (d *Deliverer) deliverWithRetry(ctx context.Context, inboxURI string, body []byte, privateKey *rsa.PrivateKey, keyID string) error {
	backoff := d.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := d.deliverOnce(ctx, inboxURI, body, privateKey, keyID); err != nil {
			lastErr = err
			d.log.Warn("delivery attempt failed", "inbox", inboxURI, "attempt", attempt, "err", err)
			continue
		}
		if attempt > 1 {
			d.log.Info("delivery succeeded after retry", "inbox", inboxURI, "attempt", attempt)
		}
		return nil
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrDelivery, inboxURI, d.maxAttempts, lastErr)
}

func (d *Deliverer) deliverOnce(ctx context.Context, inboxURI string, body []byte, privateKey *rsa.PrivateKey, keyID string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, "POST", inboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	if err := SignRequest(req, privateKey, keyID, body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status %d", resp.StatusCode)
	}
	return nil
}
