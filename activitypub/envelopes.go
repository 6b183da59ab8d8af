package activitypub

import (
	"time"

	"tusker/domain"
)

const (
	ContextActivityStreams = "https://www.w3.org/ns/activitystreams"
	PublicAudience         = "https://www.w3.org/ns/activitystreams#Public"
)

// Envelope is a constructed outbound activity. It exists only for the
// duration of a delivery attempt and is never persisted.
type Envelope struct {
	Context   interface{} `json:"@context,omitempty"`
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Actor     string      `json:"actor"`
	Published string      `json:"published,omitempty"`
	To        []string    `json:"to,omitempty"`
	CC        []string    `json:"cc,omitempty"`
	Object    interface{} `json:"object,omitempty"`
}

// NoteObject is the inner object of a Create(Note).
type NoteObject struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	AttributedTo string   `json:"attributedTo"`
	Content      string   `json:"content"`
	Published    string   `json:"published"`
	To           []string `json:"to,omitempty"`
	CC           []string `json:"cc,omitempty"`
}

func NewFollow(dom, actorURI, targetURI string) *Envelope {
	return &Envelope{
		Context: ContextActivityStreams,
		ID:      NewActivityURI(dom),
		Type:    "Follow",
		Actor:   actorURI,
		Object:  targetURI,
	}
}

// NewAccept acknowledges an inbound Follow. The object echoes the original
// Follow so the remote server can match it up.
func NewAccept(dom, actorURI, followID, followActorURI string) *Envelope {
	return &Envelope{
		Context: ContextActivityStreams,
		ID:      NewActivityURI(dom),
		Type:    "Accept",
		Actor:   actorURI,
		Object: map[string]interface{}{
			"id":     followID,
			"type":   "Follow",
			"actor":  followActorURI,
			"object": actorURI,
		},
	}
}

func NewCreateNote(dom, username string, note *domain.Note) *Envelope {
	actorURI := ActorURI(dom, username)
	published := note.CreatedAt.Format(time.RFC3339)
	audienceTo := []string{PublicAudience}
	audienceCC := []string{FollowersURI(dom, username)}

	return &Envelope{
		Context:   ContextActivityStreams,
		ID:        NewActivityURI(dom),
		Type:      "Create",
		Actor:     actorURI,
		Published: published,
		To:        audienceTo,
		CC:        audienceCC,
		Object: &NoteObject{
			ID:           NoteURI(dom, note.Id),
			Type:         "Note",
			AttributedTo: actorURI,
			Content:      note.Message,
			Published:    published,
			To:           audienceTo,
			CC:           audienceCC,
		},
	}
}

func NewLike(dom, actorURI, objectURI string) *Envelope {
	return &Envelope{
		Context: ContextActivityStreams,
		ID:      NewActivityURI(dom),
		Type:    "Like",
		Actor:   actorURI,
		Object:  objectURI,
	}
}

func NewAnnounce(dom, username, objectURI string) *Envelope {
	return &Envelope{
		Context:   ContextActivityStreams,
		ID:        NewActivityURI(dom),
		Type:      "Announce",
		Actor:     ActorURI(dom, username),
		Published: time.Now().Format(time.RFC3339),
		To:        []string{PublicAudience},
		CC:        []string{FollowersURI(dom, username)},
		Object:    objectURI,
	}
}

// NewUndo reverses an earlier activity. The inner payload carries the
// original activity's id, type, actor, and object so the remote side can
// locate what is being undone.
func NewUndo(dom, actorURI string, inner map[string]interface{}) *Envelope {
	return &Envelope{
		Context: ContextActivityStreams,
		ID:      NewActivityURI(dom),
		Type:    "Undo",
		Actor:   actorURI,
		Object:  inner,
	}
}
