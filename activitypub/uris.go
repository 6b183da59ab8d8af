package activitypub

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// URI templates for everything this server mints. All identifier extraction
// goes through ParseActorURI so path layout lives in exactly one place.

func ActorURI(domain, username string) string {
	return fmt.Sprintf("https://%s/users/%s", domain, username)
}

func InboxURI(domain, username string) string {
	return fmt.Sprintf("https://%s/users/%s/inbox", domain, username)
}

func SharedInboxURI(domain string) string {
	return fmt.Sprintf("https://%s/inbox", domain)
}

func OutboxURI(domain, username string) string {
	return fmt.Sprintf("https://%s/users/%s/outbox", domain, username)
}

func FollowersURI(domain, username string) string {
	return fmt.Sprintf("https://%s/users/%s/followers", domain, username)
}

func FollowingURI(domain, username string) string {
	return fmt.Sprintf("https://%s/users/%s/following", domain, username)
}

func NoteURI(domain string, noteId uuid.UUID) string {
	return fmt.Sprintf("https://%s/notes/%s", domain, noteId.String())
}

// NewActivityURI mints a fresh id for an outbound activity.
func NewActivityURI(domain string) string {
	return fmt.Sprintf("https://%s/activities/%s", domain, uuid.New().String())
}

func MainKeyURI(domain, username string) string {
	return ActorURI(domain, username) + "#main-key"
}

// ParseActorURI extracts the username from a local actor URI or any of its
// collection URIs (".../users/name", ".../users/name/followers"). Returns
// false when the URI is not on the given domain or not an actor path.
func ParseActorURI(domain, uri string) (string, bool) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", false
	}
	if parsed.Host != domain {
		return "", false
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "users" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// ActorDomain extracts the host of a (remote) actor URI.
func ActorDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("invalid actor URI %q: %w", actorURI, ErrMalformed)
	}
	return parsed.Host, nil
}

// SplitHandle splits "name@domain" (with or without a leading @) into its
// parts. Returns false for anything that is not a handle.
func SplitHandle(handle string) (string, string, bool) {
	handle = strings.TrimPrefix(handle, "@")
	name, dom, found := strings.Cut(handle, "@")
	if !found || name == "" || dom == "" {
		return "", "", false
	}
	return name, dom, true
}
