package web

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"tusker/activitypub"
	"tusker/db"
	"tusker/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestFederation(t *testing.T) *activitypub.Federation {
	t.Helper()

	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"), log.New(io.Discard))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	conf := &util.AppConfig{}
	conf.Conf.Domain = "local.example"
	conf.Conf.SkipVerify = true
	conf.Conf.MaxInflight = 4
	conf.Conf.MaxAttempts = 2

	fed := activitypub.New(store, conf, log.New(io.Discard))
	fed.Sender = &nullSender{}
	return fed
}

// nullSender swallows outbound deliveries so handler tests stay offline.
type nullSender struct {
	mu    sync.Mutex
	count int
}

func (s *nullSender) Send(context.Context, string, []string, *activitypub.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return nil
}

// testRouter registers all read-side routes the way the production router
// does, minus the listeners and limiters.
func testRouter(fed *activitypub.Federation) *gin.Engine {
	g := gin.New()
	g.GET("/users/:actor", func(c *gin.Context) { HandleActor(c, fed) })
	g.GET("/notes/:id", func(c *gin.Context) { HandleNote(c, fed) })
	g.GET("/notes/:id/likes", func(c *gin.Context) { HandleNoteLikes(c, fed) })
	g.GET("/notes/:id/shares", func(c *gin.Context) { HandleNoteShares(c, fed) })
	g.GET("/users/:actor/outbox", func(c *gin.Context) { HandleOutbox(c, fed) })
	g.GET("/users/:actor/followers", func(c *gin.Context) { HandleFollowers(c, fed) })
	g.GET("/users/:actor/following", func(c *gin.Context) { HandleFollowing(c, fed) })
	g.GET("/.well-known/webfinger", func(c *gin.Context) { HandleWebfinger(c, fed) })
	g.GET("/.well-known/nodeinfo", func(c *gin.Context) { HandleNodeInfoDiscovery(c, fed) })
	g.GET("/nodeinfo/2.0", func(c *gin.Context) { HandleNodeInfo(c, fed, "0.0.0-test") })
	g.POST("/inbox", func(c *gin.Context) { handleSharedInbox(c, fed) })
	return g
}
