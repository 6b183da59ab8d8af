package web

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tusker/activitypub"
)

const activityJSONType = "application/activity+json; charset=utf-8"

// HandleActor serves the local actor document.
func HandleActor(c *gin.Context, fed *activitypub.Federation) {
	c.Header("Content-Type", activityJSONType)

	doc, err := fed.Resolver.ResolveLocalActor(c.Param("actor"))
	if err != nil {
		c.JSON(404, gin.H{"error": "Actor not found"})
		return
	}
	c.JSON(200, doc)
}

// HandleNote serves an individual local note as an ActivityPub object.
func HandleNote(c *gin.Context, fed *activitypub.Federation) {
	c.Header("Content-Type", activityJSONType)

	noteId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(404, gin.H{"error": "Invalid note ID"})
		return
	}

	note, err := fed.Store.ReadNoteById(noteId)
	if err != nil {
		c.JSON(404, gin.H{"error": "Note not found"})
		return
	}

	dom := fed.Conf.Conf.Domain
	actorURI := activitypub.ActorURI(dom, note.CreatedBy)
	c.JSON(200, &activitypub.NoteObject{
		ID:           activitypub.NoteURI(dom, note.Id),
		Type:         "Note",
		AttributedTo: actorURI,
		Content:      note.Message,
		Published:    note.CreatedAt.Format(time.RFC3339),
		To:           []string{activitypub.PublicAudience},
		CC:           []string{activitypub.FollowersURI(dom, note.CreatedBy)},
	})
}

// HandleWebfinger answers directory discovery for acct: resources.
func HandleWebfinger(c *gin.Context, fed *activitypub.Federation) {
	c.Header("Content-Type", "application/jrd+json; charset=utf-8")

	resource := c.Query("resource")
	const acctPrefix = "acct:"
	if len(resource) <= len(acctPrefix) || resource[:len(acctPrefix)] != acctPrefix {
		c.JSON(404, gin.H{"detail": "Not Found"})
		return
	}

	handle := resource[len(acctPrefix):]
	name, dom, ok := activitypub.SplitHandle(handle)
	if !ok {
		name = handle
	} else if dom != fed.Conf.Conf.Domain {
		c.JSON(404, gin.H{"detail": "Not Found"})
		return
	}

	acc, err := fed.Store.ReadAccByUsername(name)
	if err != nil {
		c.JSON(404, gin.H{"detail": "Not Found"})
		return
	}

	c.JSON(200, gin.H{
		"subject": fmt.Sprintf("acct:%s@%s", acc.Username, fed.Conf.Conf.Domain),
		"links": []gin.H{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": fed.LocalActorURI(acc.Username),
			},
		},
	})
}
