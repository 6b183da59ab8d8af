package domain

import (
	"time"

	"github.com/google/uuid"
)

// RemoteAccount is a cached copy of a federated actor document.
type RemoteAccount struct {
	Id             uuid.UUID
	Username       string
	Domain         string
	ActorURI       string
	DisplayName    string
	Summary        string
	InboxURI       string
	SharedInboxURI string // optional, empty if the remote server has none
	OutboxURI      string
	PublicKeyPem   string
	AvatarURL      string
	LastFetchedAt  time.Time
}

// FollowEdge is one follow relationship, keyed by the ordered URI pair.
// There is no pending state: this server auto-accepts, so existence is boolean.
type FollowEdge struct {
	Id           uuid.UUID
	FollowerURI  string
	FollowingURI string
	ActivityURI  string // the Follow activity that created the edge
	CreatedAt    time.Time
}

// EngagementKind discriminates engagement edges.
type EngagementKind string

const (
	EngagementLike     EngagementKind = "Like"
	EngagementAnnounce EngagementKind = "Announce"
)

// EngagementEdge is a like or announce of an object by an actor,
// unique per (kind, actor, object).
type EngagementEdge struct {
	Id          uuid.UUID
	Kind        EngagementKind
	ActorURI    string
	ObjectURI   string
	ActivityURI string
	CreatedAt   time.Time
}

// RemotePost is a note ingested from an inbound Create, keyed by object URI.
type RemotePost struct {
	Id        uuid.UUID
	ObjectURI string
	ActorURI  string
	Content   string
	Published time.Time
	CreatedAt time.Time
}
