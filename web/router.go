package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tusker/activitypub"
	"tusker/util"
)

// Router builds the HTTP surface and blocks serving it. With AutoTls set it
// terminates TLS itself via Let's Encrypt, otherwise it serves plain HTTP
// behind a terminating proxy.
func Router(fed *activitypub.Federation) error {
	conf := fed.Conf
	fed.Log.Info("starting http server", "host", conf.Conf.Host, "port", conf.Conf.HttpPort)

	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter rate limit for federation endpoints: 5 req/sec per IP
	apLimiter := NewRateLimiter(rate.Limit(5), 10)

	// Max 1MB request body size for inbound activities
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	// RSS
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")

		rss, err := GetRSS(fed, c.Query("username"))
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	g.GET("/feed/:id", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")

		feedId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.Render(404, render.String{Format: ""})
			return
		}

		rssItem, err := GetRSSItem(fed, feedId)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rssItem})
		}
	})

	// Actor, objects and collections
	g.GET("/users/:actor", func(c *gin.Context) {
		HandleActor(c, fed)
	})
	g.GET("/notes/:id", func(c *gin.Context) {
		HandleNote(c, fed)
	})
	g.GET("/notes/:id/likes", func(c *gin.Context) {
		HandleNoteLikes(c, fed)
	})
	g.GET("/notes/:id/shares", func(c *gin.Context) {
		HandleNoteShares(c, fed)
	})
	g.GET("/users/:actor/outbox", func(c *gin.Context) {
		HandleOutbox(c, fed)
	})
	g.GET("/users/:actor/followers", func(c *gin.Context) {
		HandleFollowers(c, fed)
	})
	g.GET("/users/:actor/following", func(c *gin.Context) {
		HandleFollowing(c, fed)
	})

	// Inboxes
	g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		fed.HandleInbox(c.Writer, c.Request, c.Param("actor"))
	})

	g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		handleSharedInbox(c, fed)
	})

	// Discovery
	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		HandleWebfinger(c, fed)
	})
	g.GET("/.well-known/nodeinfo", func(c *gin.Context) {
		HandleNodeInfoDiscovery(c, fed)
	})
	g.GET("/nodeinfo/2.0", func(c *gin.Context) {
		HandleNodeInfo(c, fed, util.GetVersion())
	})

	if conf.Conf.AutoTls {
		return serveAutoTLS(fed, g)
	}
	return g.Run(fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort))
}

// handleSharedInbox routes an activity posted to the instance inbox to a
// local account. Addressing is checked first; activities with no local
// addressee fall back to the instance's canonical account.
func handleSharedInbox(c *gin.Context, fed *activitypub.Federation) {
	body, err := c.GetRawData()
	if err != nil {
		c.Status(400)
		return
	}

	var activity map[string]interface{}
	if err := json.Unmarshal(body, &activity); err != nil {
		c.Status(400)
		return
	}

	targetUsername := addressedLocalUser(activity, fed.Conf.Conf.Domain)
	if targetUsername == "" {
		acc, err := fed.Store.ReadFirstAccount()
		if err != nil {
			fed.Log.Warn("shared inbox: no local account to route to", "type", activity["type"])
			c.Status(202)
			return
		}
		targetUsername = acc.Username
	}

	req := c.Request.Clone(c.Request.Context())
	req.Body = io.NopCloser(bytes.NewReader(body))
	fed.HandleInbox(c.Writer, req, targetUsername)
}

// addressedLocalUser scans to, cc and object for a local actor or
// followers-collection URI and returns its username.
func addressedLocalUser(activity map[string]interface{}, dom string) string {
	candidates := collectURIs(activity["to"])
	candidates = append(candidates, collectURIs(activity["cc"])...)
	if objStr, ok := activity["object"].(string); ok {
		candidates = append(candidates, objStr)
	}

	for _, uri := range candidates {
		// A followers collection addresses its owner.
		uri = strings.TrimSuffix(uri, "/followers")
		if username, ok := activitypub.ParseActorURI(dom, uri); ok {
			return username
		}
	}
	return ""
}

func collectURIs(field interface{}) []string {
	switch v := field.(type) {
	case string:
		return []string{v}
	case []interface{}:
		var uris []string
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				uris = append(uris, s)
			}
		}
		return uris
	}
	return nil
}
