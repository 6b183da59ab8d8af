package activitypub

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"tusker/domain"
)

func setupOutboundTest(t *testing.T) (*Federation, *fakeSender) {
	t.Helper()
	f := newTestFederation(t)
	sender := &fakeSender{}
	f.Sender = sender
	if _, err := f.Store.CreateAccount("alice", "", ""); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	seedRemoteActor(t, f.Store, remoteActorURI)
	return f, sender
}

func TestSendFollowRecordsEdgeAndDelivers(t *testing.T) {
	f, sender := setupOutboundTest(t)

	if err := f.SendFollow(context.Background(), "alice", remoteActorURI); err != nil {
		t.Fatalf("SendFollow failed: %v", err)
	}

	count, err := f.Store.CountFollowing(f.LocalActorURI("alice"))
	if err != nil {
		t.Fatalf("CountFollowing failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 following edge, got %d", count)
	}

	sends := sender.sent()
	if len(sends) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(sends))
	}
	if sends[0].Env.Type != "Follow" {
		t.Errorf("Expected Follow, got %s", sends[0].Env.Type)
	}
	if sends[0].Env.Object != remoteActorURI {
		t.Errorf("Follow object should be the target actor, got %v", sends[0].Env.Object)
	}
}

func TestSendFollowTwiceKeepsOneEdge(t *testing.T) {
	f, _ := setupOutboundTest(t)

	if err := f.SendFollow(context.Background(), "alice", remoteActorURI); err != nil {
		t.Fatalf("First SendFollow failed: %v", err)
	}
	if err := f.SendFollow(context.Background(), "alice", remoteActorURI); err != nil {
		t.Fatalf("Second SendFollow failed: %v", err)
	}

	count, _ := f.Store.CountFollowing(f.LocalActorURI("alice"))
	if count != 1 {
		t.Errorf("Expected 1 following edge after repeat, got %d", count)
	}
}

func TestSendUndoFollowRemovesEdge(t *testing.T) {
	f, sender := setupOutboundTest(t)

	if err := f.SendFollow(context.Background(), "alice", remoteActorURI); err != nil {
		t.Fatalf("SendFollow failed: %v", err)
	}
	if err := f.SendUndoFollow(context.Background(), "alice", remoteActorURI); err != nil {
		t.Fatalf("SendUndoFollow failed: %v", err)
	}

	count, _ := f.Store.CountFollowing(f.LocalActorURI("alice"))
	if count != 0 {
		t.Errorf("Expected 0 following edges, got %d", count)
	}

	sends := sender.sent()
	if len(sends) != 2 {
		t.Fatalf("Expected Follow then Undo, got %d sends", len(sends))
	}
	undo := sends[1]
	if undo.Env.Type != "Undo" {
		t.Errorf("Expected Undo, got %s", undo.Env.Type)
	}
	inner, ok := undo.Env.Object.(map[string]interface{})
	if !ok || inner["type"] != "Follow" {
		t.Errorf("Undo should wrap the original Follow, got %v", undo.Env.Object)
	}
	if inner["id"] != sends[0].Env.ID {
		t.Errorf("Undo should reference the original Follow id")
	}
}

func TestSendUndoFollowWithoutEdgeIsNoOp(t *testing.T) {
	f, sender := setupOutboundTest(t)

	if err := f.SendUndoFollow(context.Background(), "alice", remoteActorURI); err != nil {
		t.Fatalf("SendUndoFollow should be a no-op, got: %v", err)
	}
	if len(sender.sent()) != 0 {
		t.Error("Undoing a never-sent follow must not deliver anything")
	}
}

func TestPublishNoteStoresAndFederates(t *testing.T) {
	f, sender := setupOutboundTest(t)

	note, err := f.PublishNote(context.Background(), "alice", "hello world")
	if err != nil {
		t.Fatalf("PublishNote failed: %v", err)
	}
	if note.Id == uuid.Nil {
		t.Error("Expected the note to carry an id")
	}

	stored, err := f.Store.ReadNoteById(note.Id)
	if err != nil {
		t.Fatalf("Published note not stored: %v", err)
	}
	if stored.Message != "hello world" {
		t.Errorf("Unexpected stored message %q", stored.Message)
	}

	sends := sender.sent()
	if len(sends) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(sends))
	}
	create := sends[0]
	if create.Env.Type != "Create" {
		t.Errorf("Expected Create, got %s", create.Env.Type)
	}
	if len(create.Recipients) != 1 || create.Recipients[0] != RecipientFollowers {
		t.Errorf("Create should be addressed to followers, got %v", create.Recipients)
	}
	noteObj, ok := create.Env.Object.(*NoteObject)
	if !ok {
		t.Fatalf("Create object should be a note, got %T", create.Env.Object)
	}
	if noteObj.Content != "hello world" {
		t.Errorf("Unexpected note content %q", noteObj.Content)
	}
	if len(create.Env.To) != 1 || create.Env.To[0] != PublicAudience {
		t.Errorf("Create should address the public audience, got %v", create.Env.To)
	}
}

func TestSendLikeRecordsEngagement(t *testing.T) {
	f, sender := setupOutboundTest(t)
	objectURI := "https://remote.example/notes/5"

	// The liked post is known locally, so its author gets notified
	post := &domain.RemotePost{
		Id:        uuid.New(),
		ObjectURI: objectURI,
		ActorURI:  remoteActorURI,
		Content:   "remote post",
		Published: time.Now(),
		CreatedAt: time.Now(),
	}
	if _, err := f.Store.UpsertRemotePost(post); err != nil {
		t.Fatalf("UpsertRemotePost failed: %v", err)
	}

	if err := f.SendLike(context.Background(), "alice", objectURI); err != nil {
		t.Fatalf("SendLike failed: %v", err)
	}

	count, _ := f.Store.CountEngagements(domain.EngagementLike, objectURI)
	if count != 1 {
		t.Errorf("Expected 1 like recorded, got %d", count)
	}

	sends := sender.sent()
	if len(sends) != 1 || sends[0].Env.Type != "Like" {
		t.Fatalf("Expected one Like delivery, got %v", sends)
	}
	if len(sends[0].Recipients) != 1 || sends[0].Recipients[0] != remoteActorURI {
		t.Errorf("Like should notify the post author, got %v", sends[0].Recipients)
	}
}

func TestSendAnnounceTargetsFollowers(t *testing.T) {
	f, sender := setupOutboundTest(t)

	if err := f.SendAnnounce(context.Background(), "alice", "https://remote.example/notes/5"); err != nil {
		t.Fatalf("SendAnnounce failed: %v", err)
	}

	sends := sender.sent()
	if len(sends) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(sends))
	}
	hasFollowers := false
	for _, r := range sends[0].Recipients {
		if r == RecipientFollowers {
			hasFollowers = true
		}
	}
	if !hasFollowers {
		t.Errorf("Announce should reach followers, got %v", sends[0].Recipients)
	}
}

func TestSendUndoLikeRemovesEngagement(t *testing.T) {
	f, sender := setupOutboundTest(t)
	objectURI := "https://remote.example/notes/5"

	if err := f.SendLike(context.Background(), "alice", objectURI); err != nil {
		t.Fatalf("SendLike failed: %v", err)
	}
	if err := f.SendUndoLike(context.Background(), "alice", objectURI); err != nil {
		t.Fatalf("SendUndoLike failed: %v", err)
	}

	count, _ := f.Store.CountEngagements(domain.EngagementLike, objectURI)
	if count != 0 {
		t.Errorf("Expected like to be removed, got %d", count)
	}

	sends := sender.sent()
	if len(sends) != 2 || sends[1].Env.Type != "Undo" {
		t.Fatalf("Expected Like then Undo, got %d sends", len(sends))
	}
}
