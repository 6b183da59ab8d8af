package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"tusker/activitypub"
	"tusker/domain"
)

func TestAddressedLocalUser(t *testing.T) {
	dom := "local.example"
	tests := []struct {
		name     string
		activity map[string]interface{}
		want     string
	}{
		{
			name:     "to actor",
			activity: map[string]interface{}{"to": []interface{}{"https://local.example/users/alice"}},
			want:     "alice",
		},
		{
			name:     "cc followers collection",
			activity: map[string]interface{}{"cc": []interface{}{"https://local.example/users/alice/followers"}},
			want:     "alice",
		},
		{
			name:     "follow object",
			activity: map[string]interface{}{"object": "https://local.example/users/alice"},
			want:     "alice",
		},
		{
			name:     "single string to",
			activity: map[string]interface{}{"to": "https://local.example/users/alice"},
			want:     "alice",
		},
		{
			name: "foreign addressing only",
			activity: map[string]interface{}{
				"to": []interface{}{"https://www.w3.org/ns/activitystreams#Public"},
				"cc": []interface{}{"https://elsewhere.example/users/bob/followers"},
			},
			want: "",
		},
		{
			name:     "no addressing",
			activity: map[string]interface{}{},
			want:     "",
		},
	}

	for _, tt := range tests {
		if got := addressedLocalUser(tt.activity, dom); got != tt.want {
			t.Errorf("%s: addressedLocalUser = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestSharedInboxRoutesByAddressing(t *testing.T) {
	fed := newTestFederation(t)
	if _, err := fed.Store.CreateAccount("alice", "", ""); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	seedRemote(t, fed, "https://remote.example/users/bob")
	g := testRouter(fed)

	body := `{
		"id": "https://remote.example/activities/follow-1",
		"type": "Follow",
		"actor": "https://remote.example/users/bob",
		"object": "https://local.example/users/alice"
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/inbox", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	g.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	count, _ := fed.Store.CountFollowers("https://local.example/users/alice")
	if count != 1 {
		t.Errorf("Expected the Follow to be routed to alice, got %d edges", count)
	}
}

func TestSharedInboxFallsBackToCanonicalAccount(t *testing.T) {
	fed := newTestFederation(t)
	if _, err := fed.Store.CreateAccount("alice", "", ""); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	seedRemote(t, fed, "https://remote.example/users/bob")
	g := testRouter(fed)

	// A Create addressed only to Public carries no local URI; it still
	// lands with the instance's account.
	body := `{
		"id": "https://remote.example/activities/create-1",
		"type": "Create",
		"actor": "https://remote.example/users/bob",
		"to": ["https://www.w3.org/ns/activitystreams#Public"],
		"object": {"id": "https://remote.example/notes/7", "type": "Note", "content": "hi"}
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/inbox", strings.NewReader(body))
	g.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if _, err := fed.Store.ReadRemotePostByURI("https://remote.example/notes/7"); err != nil {
		t.Errorf("Expected the Create to be ingested via fallback routing: %v", err)
	}
}

func TestSharedInboxGarbageRejected(t *testing.T) {
	fed := newTestFederation(t)
	g := testRouter(fed)

	w := httptest.NewRecorder()
	g.ServeHTTP(w, httptest.NewRequest("POST", "/inbox", strings.NewReader("not json")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unparseable body, got %d", w.Code)
	}
}

func seedRemote(t *testing.T, fed *activitypub.Federation, actorURI string) {
	t.Helper()
	acc := &domain.RemoteAccount{
		Id:            uuid.New(),
		Username:      "bob",
		Domain:        "remote.example",
		ActorURI:      actorURI,
		InboxURI:      actorURI + "/inbox",
		PublicKeyPem:  "irrelevant",
		LastFetchedAt: time.Now(),
	}
	if err := fed.Store.UpsertRemoteAccount(acc); err != nil {
		t.Fatalf("Failed to seed remote actor: %v", err)
	}
}
