package activitypub

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"tusker/db"
	"tusker/domain"
	"tusker/util"
)

const testDomain = "local.example"

func newTestConf() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.Domain = testDomain
	conf.Conf.SkipVerify = true
	conf.Conf.MaxInflight = 4
	conf.Conf.MaxAttempts = 3
	return conf
}

func newTestStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"), log.New(io.Discard))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return store
}

func newTestFederation(t *testing.T) *Federation {
	t.Helper()
	return New(newTestStore(t), newTestConf(), log.New(io.Discard))
}

// seedRemoteActor caches a remote account so handlers resolve the sender
// without any network traffic.
func seedRemoteActor(t *testing.T, store *db.DB, actorURI string) *domain.RemoteAccount {
	t.Helper()
	acc := &domain.RemoteAccount{
		Id:            uuid.New(),
		Username:      "remote",
		Domain:        "remote.example",
		ActorURI:      actorURI,
		InboxURI:      actorURI + "/inbox",
		PublicKeyPem:  "irrelevant",
		LastFetchedAt: time.Now(),
	}
	if err := store.UpsertRemoteAccount(acc); err != nil {
		t.Fatalf("Failed to seed remote actor: %v", err)
	}
	return acc
}

type capturedSend struct {
	Username   string
	Recipients []string
	Env        *Envelope
}

// fakeSender records deliveries instead of performing them.
type fakeSender struct {
	mu    sync.Mutex
	sends []capturedSend
}

func (s *fakeSender) Send(_ context.Context, username string, recipients []string, env *Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, capturedSend{Username: username, Recipients: recipients, Env: env})
	return nil
}

func (s *fakeSender) sent() []capturedSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedSend(nil), s.sends...)
}
