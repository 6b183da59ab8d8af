package web

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tusker/activitypub"
	"tusker/domain"
)

const collectionPageSize = 20

// HandleOutbox serves the actor's Create activities as an OrderedCollection,
// newest first, with the ?page=N contract remote servers actually send.
func HandleOutbox(c *gin.Context, fed *activitypub.Federation) {
	c.Header("Content-Type", activityJSONType)

	actor := c.Param("actor")
	if _, err := fed.Store.ReadAccByUsername(actor); err != nil {
		c.JSON(404, gin.H{"error": "Actor not found"})
		return
	}

	outboxURL := activitypub.OutboxURI(fed.Conf.Conf.Domain, actor)
	page := parsePageParam(c.Query("page"))

	if page == 0 {
		total, err := fed.Store.CountNotesByUsername(actor)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to load outbox"})
			return
		}
		c.JSON(200, gin.H{
			"@context":   activitypub.ContextActivityStreams,
			"id":         outboxURL,
			"type":       "OrderedCollection",
			"totalItems": total,
			"first":      fmt.Sprintf("%s?page=1", outboxURL),
		})
		return
	}

	// Fetch one extra item to detect whether a next page exists.
	notes, err := fed.Store.ReadNotesByUsername(actor, collectionPageSize+1, (page-1)*collectionPageSize)
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to load outbox"})
		return
	}

	hasMore := len(notes) > collectionPageSize
	if hasMore {
		notes = notes[:collectionPageSize]
	}

	items := make([]interface{}, 0, len(notes))
	for i := range notes {
		notes[i].CreatedBy = actor
		items = append(items, activitypub.NewCreateNote(fed.Conf.Conf.Domain, actor, &notes[i]))
	}

	collectionPage := gin.H{
		"@context":     activitypub.ContextActivityStreams,
		"id":           fmt.Sprintf("%s?page=%d", outboxURL, page),
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"orderedItems": items,
	}
	if hasMore {
		collectionPage["next"] = fmt.Sprintf("%s?page=%d", outboxURL, page+1)
	}
	if page > 1 {
		collectionPage["prev"] = fmt.Sprintf("%s?page=%d", outboxURL, page-1)
	}
	c.JSON(200, collectionPage)
}

// HandleFollowers serves the follower actor URIs as a paginated collection.
func HandleFollowers(c *gin.Context, fed *activitypub.Federation) {
	serveEdgeCollection(c, fed, activitypub.FollowersURI(fed.Conf.Conf.Domain, c.Param("actor")), followerSide)
}

// HandleFollowing serves the followed actor URIs as a paginated collection.
func HandleFollowing(c *gin.Context, fed *activitypub.Federation) {
	serveEdgeCollection(c, fed, activitypub.FollowingURI(fed.Conf.Conf.Domain, c.Param("actor")), followingSide)
}

type edgeSide int

const (
	followerSide edgeSide = iota
	followingSide
)

// serveEdgeCollection answers both the bare collection (count + first page
// link) and cursor-addressed pages of actor URIs.
func serveEdgeCollection(c *gin.Context, fed *activitypub.Federation, collectionURL string, side edgeSide) {
	c.Header("Content-Type", activityJSONType)

	actor := c.Param("actor")
	if _, err := fed.Store.ReadAccByUsername(actor); err != nil {
		c.JSON(404, gin.H{"error": "Actor not found"})
		return
	}
	localURI := fed.LocalActorURI(actor)

	var total int
	var err error
	if side == followerSide {
		total, err = fed.Store.CountFollowers(localURI)
	} else {
		total, err = fed.Store.CountFollowing(localURI)
	}
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to load collection"})
		return
	}

	if c.Query("page") == "" {
		c.JSON(200, gin.H{
			"@context":   activitypub.ContextActivityStreams,
			"id":         collectionURL,
			"type":       "OrderedCollection",
			"totalItems": total,
			"first":      fmt.Sprintf("%s?page=true", collectionURL),
		})
		return
	}

	cursor := c.Query("cursor")
	var edges []domain.FollowEdge
	var next string
	if side == followerSide {
		edges, next, err = fed.Store.ListFollowers(localURI, collectionPageSize, cursor)
	} else {
		edges, next, err = fed.Store.ListFollowing(localURI, collectionPageSize, cursor)
	}
	if err != nil {
		c.JSON(400, gin.H{"error": "Invalid page"})
		return
	}

	items := make([]string, 0, len(edges))
	for _, edge := range edges {
		if side == followerSide {
			items = append(items, edge.FollowerURI)
		} else {
			items = append(items, edge.FollowingURI)
		}
	}

	pageID := fmt.Sprintf("%s?page=true", collectionURL)
	if cursor != "" {
		pageID = fmt.Sprintf("%s&cursor=%s", pageID, cursor)
	}
	collectionPage := gin.H{
		"@context":     activitypub.ContextActivityStreams,
		"id":           pageID,
		"type":         "OrderedCollectionPage",
		"partOf":       collectionURL,
		"orderedItems": items,
	}
	if next != "" {
		collectionPage["next"] = fmt.Sprintf("%s?page=true&cursor=%s", collectionURL, next)
	}
	c.JSON(200, collectionPage)
}

// HandleNoteLikes serves the actors who liked a local note.
func HandleNoteLikes(c *gin.Context, fed *activitypub.Federation) {
	serveEngagementCollection(c, fed, domain.EngagementLike, "likes")
}

// HandleNoteShares serves the actors who announced a local note.
func HandleNoteShares(c *gin.Context, fed *activitypub.Federation) {
	serveEngagementCollection(c, fed, domain.EngagementAnnounce, "shares")
}

func serveEngagementCollection(c *gin.Context, fed *activitypub.Federation, kind domain.EngagementKind, suffix string) {
	c.Header("Content-Type", activityJSONType)

	noteId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(404, gin.H{"error": "Invalid note ID"})
		return
	}
	if _, err := fed.Store.ReadNoteById(noteId); err != nil {
		c.JSON(404, gin.H{"error": "Note not found"})
		return
	}

	objectURI := activitypub.NoteURI(fed.Conf.Conf.Domain, noteId)
	collectionURL := fmt.Sprintf("%s/%s", objectURI, suffix)

	total, err := fed.Store.CountEngagements(kind, objectURI)
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to load collection"})
		return
	}

	if c.Query("page") == "" {
		c.JSON(200, gin.H{
			"@context":   activitypub.ContextActivityStreams,
			"id":         collectionURL,
			"type":       "OrderedCollection",
			"totalItems": total,
			"first":      fmt.Sprintf("%s?page=true", collectionURL),
		})
		return
	}

	cursor := c.Query("cursor")
	edges, next, err := fed.Store.ListEngagements(kind, objectURI, collectionPageSize, cursor)
	if err != nil {
		c.JSON(400, gin.H{"error": "Invalid page"})
		return
	}

	items := make([]string, 0, len(edges))
	for _, edge := range edges {
		items = append(items, edge.ActorURI)
	}

	collectionPage := gin.H{
		"@context":     activitypub.ContextActivityStreams,
		"id":           fmt.Sprintf("%s?page=true", collectionURL),
		"type":         "OrderedCollectionPage",
		"partOf":       collectionURL,
		"orderedItems": items,
	}
	if next != "" {
		collectionPage["next"] = fmt.Sprintf("%s?page=true&cursor=%s", collectionURL, next)
	}
	c.JSON(200, collectionPage)
}

func parsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}

// HandleNodeInfo serves the server metadata document.
func HandleNodeInfo(c *gin.Context, fed *activitypub.Federation, version string) {
	users, err := fed.Store.CountAccounts()
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to load node info"})
		return
	}
	posts, err := fed.Store.CountNotes()
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to load node info"})
		return
	}

	c.JSON(200, gin.H{
		"version": "2.0",
		"software": gin.H{
			"name":    "tusker",
			"version": version,
		},
		"protocols": []string{"activitypub"},
		"services":  gin.H{"inbound": []string{}, "outbound": []string{}},
		"usage": gin.H{
			"users":      gin.H{"total": users},
			"localPosts": posts,
		},
		"openRegistrations": false,
		"metadata":          gin.H{"nodeName": fed.Conf.Conf.Domain, "generatedAt": time.Now().UTC().Format(time.RFC3339)},
	})
}

// HandleNodeInfoDiscovery serves the well-known nodeinfo link document.
func HandleNodeInfoDiscovery(c *gin.Context, fed *activitypub.Federation) {
	c.JSON(200, gin.H{
		"links": []gin.H{
			{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				"href": fmt.Sprintf("https://%s/nodeinfo/2.0", fed.Conf.Conf.Domain),
			},
		},
	})
}
