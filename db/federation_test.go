package db

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"tusker/domain"
)

func testFollowEdge(follower, following string) *domain.FollowEdge {
	return &domain.FollowEdge{
		Id:           uuid.New(),
		FollowerURI:  follower,
		FollowingURI: following,
		ActivityURI:  "https://remote.example/activities/" + uuid.NewString(),
		CreatedAt:    time.Now(),
	}
}

func TestUpsertRemoteAccountRefreshes(t *testing.T) {
	db := setupTestDB(t)

	acc := &domain.RemoteAccount{
		Id:            uuid.New(),
		Username:      "bob",
		Domain:        "remote.example",
		ActorURI:      "https://remote.example/users/bob",
		InboxURI:      "https://remote.example/users/bob/inbox",
		PublicKeyPem:  "pem-v1",
		LastFetchedAt: time.Now(),
	}
	if err := db.UpsertRemoteAccount(acc); err != nil {
		t.Fatalf("UpsertRemoteAccount failed: %v", err)
	}

	// Same actor URI, rotated key: the row is refreshed, not duplicated
	acc2 := *acc
	acc2.Id = uuid.New()
	acc2.PublicKeyPem = "pem-v2"
	if err := db.UpsertRemoteAccount(&acc2); err != nil {
		t.Fatalf("Second UpsertRemoteAccount failed: %v", err)
	}

	got, err := db.ReadRemoteAccountByURI(acc.ActorURI)
	if err != nil {
		t.Fatalf("ReadRemoteAccountByURI failed: %v", err)
	}
	if got.PublicKeyPem != "pem-v2" {
		t.Errorf("Expected refreshed key pem-v2, got %s", got.PublicKeyPem)
	}
	if got.Id != acc.Id {
		t.Errorf("Upsert should keep the original row id")
	}
}

func TestUpsertFollowIdempotent(t *testing.T) {
	db := setupTestDB(t)

	edge := testFollowEdge("https://remote.example/users/bob", "https://local.example/users/alice")
	created, err := db.UpsertFollow(edge)
	if err != nil {
		t.Fatalf("UpsertFollow failed: %v", err)
	}
	if !created {
		t.Error("Expected first upsert to create the edge")
	}

	// Re-delivered Follow for the same pair
	again := testFollowEdge(edge.FollowerURI, edge.FollowingURI)
	created, err = db.UpsertFollow(again)
	if err != nil {
		t.Fatalf("Second UpsertFollow failed: %v", err)
	}
	if created {
		t.Error("Expected second upsert to be a no-op")
	}

	count, err := db.CountFollowers(edge.FollowingURI)
	if err != nil {
		t.Fatalf("CountFollowers failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 follower edge, got %d", count)
	}
}

func TestUpsertFollowConcurrentDuplicates(t *testing.T) {
	db := setupTestDB(t)

	follower := "https://remote.example/users/bob"
	following := "https://local.example/users/alice"

	var wg sync.WaitGroup
	createdCount := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := db.UpsertFollow(testFollowEdge(follower, following))
			if err != nil {
				t.Errorf("UpsertFollow failed: %v", err)
				return
			}
			createdCount <- created
		}()
	}
	wg.Wait()
	close(createdCount)

	winners := 0
	for created := range createdCount {
		if created {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("Expected exactly one racer to create the edge, got %d", winners)
	}

	count, err := db.CountFollowers(following)
	if err != nil {
		t.Fatalf("CountFollowers failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 edge after concurrent upserts, got %d", count)
	}
}

func TestDeleteFollowAbsentIsNoOp(t *testing.T) {
	db := setupTestDB(t)

	if err := db.DeleteFollow("https://remote.example/users/nobody", "https://local.example/users/alice"); err != nil {
		t.Errorf("Deleting an absent edge should not error: %v", err)
	}
}

func TestDeleteFollowRemovesEdge(t *testing.T) {
	db := setupTestDB(t)

	edge := testFollowEdge("https://remote.example/users/bob", "https://local.example/users/alice")
	if _, err := db.UpsertFollow(edge); err != nil {
		t.Fatalf("UpsertFollow failed: %v", err)
	}

	if err := db.DeleteFollow(edge.FollowerURI, edge.FollowingURI); err != nil {
		t.Fatalf("DeleteFollow failed: %v", err)
	}

	if _, err := db.ReadFollow(edge.FollowerURI, edge.FollowingURI); err == nil {
		t.Error("Expected edge to be gone")
	}
}

func TestFollowersCursorPagination(t *testing.T) {
	db := setupTestDB(t)

	following := "https://local.example/users/alice"
	for i := 0; i < 7; i++ {
		edge := testFollowEdge("https://remote.example/users/f"+uuid.NewString(), following)
		// Spread creation times so the keyset ordering is deterministic
		edge.CreatedAt = time.Now().Add(time.Duration(i) * time.Millisecond)
		if _, err := db.UpsertFollow(edge); err != nil {
			t.Fatalf("UpsertFollow failed: %v", err)
		}
	}

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	for {
		edges, next, err := db.ListFollowers(following, 3, cursor)
		if err != nil {
			t.Fatalf("ListFollowers failed: %v", err)
		}
		for _, e := range edges {
			if seen[e.FollowerURI] {
				t.Errorf("Follower %s appeared on two pages", e.FollowerURI)
			}
			seen[e.FollowerURI] = true
		}
		pages++
		if next == "" {
			break
		}
		cursor = next
		if pages > 10 {
			t.Fatal("Pagination did not terminate")
		}
	}

	if len(seen) != 7 {
		t.Errorf("Expected 7 distinct followers across pages, got %d", len(seen))
	}
}

func TestListFollowersInvalidCursor(t *testing.T) {
	db := setupTestDB(t)

	if _, _, err := db.ListFollowers("https://local.example/users/alice", 3, "not-base64!!"); err == nil {
		t.Error("Expected error for malformed cursor")
	}
}

func TestEngagementIdempotentAndCounted(t *testing.T) {
	db := setupTestDB(t)

	edge := &domain.EngagementEdge{
		Id:          uuid.New(),
		Kind:        domain.EngagementLike,
		ActorURI:    "https://remote.example/users/bob",
		ObjectURI:   "https://local.example/notes/1",
		ActivityURI: "https://remote.example/activities/like-1",
		CreatedAt:   time.Now(),
	}
	created, err := db.UpsertEngagement(edge)
	if err != nil {
		t.Fatalf("UpsertEngagement failed: %v", err)
	}
	if !created {
		t.Error("Expected first like to be created")
	}

	dup := *edge
	dup.Id = uuid.New()
	created, err = db.UpsertEngagement(&dup)
	if err != nil {
		t.Fatalf("Second UpsertEngagement failed: %v", err)
	}
	if created {
		t.Error("Expected duplicate like to be a no-op")
	}

	// Same actor, same object, different kind is a distinct edge
	boost := *edge
	boost.Id = uuid.New()
	boost.Kind = domain.EngagementAnnounce
	if created, err := db.UpsertEngagement(&boost); err != nil || !created {
		t.Errorf("Expected announce by same actor to be created, got created=%v err=%v", created, err)
	}

	likes, err := db.CountEngagements(domain.EngagementLike, edge.ObjectURI)
	if err != nil {
		t.Fatalf("CountEngagements failed: %v", err)
	}
	if likes != 1 {
		t.Errorf("Expected 1 like, got %d", likes)
	}
}

func TestDeleteEngagement(t *testing.T) {
	db := setupTestDB(t)

	edge := &domain.EngagementEdge{
		Id:        uuid.New(),
		Kind:      domain.EngagementLike,
		ActorURI:  "https://remote.example/users/bob",
		ObjectURI: "https://local.example/notes/1",
		CreatedAt: time.Now(),
	}
	if _, err := db.UpsertEngagement(edge); err != nil {
		t.Fatalf("UpsertEngagement failed: %v", err)
	}

	if err := db.DeleteEngagement(domain.EngagementLike, edge.ActorURI, edge.ObjectURI); err != nil {
		t.Fatalf("DeleteEngagement failed: %v", err)
	}
	likes, _ := db.CountEngagements(domain.EngagementLike, edge.ObjectURI)
	if likes != 0 {
		t.Errorf("Expected 0 likes after delete, got %d", likes)
	}

	// Deleting again is a no-op
	if err := db.DeleteEngagement(domain.EngagementLike, edge.ActorURI, edge.ObjectURI); err != nil {
		t.Errorf("Deleting an absent engagement should not error: %v", err)
	}
}

func TestUpsertRemotePostIdempotent(t *testing.T) {
	db := setupTestDB(t)

	post := &domain.RemotePost{
		Id:        uuid.New(),
		ObjectURI: "https://remote.example/notes/42",
		ActorURI:  "https://remote.example/users/bob",
		Content:   "original",
		Published: time.Now(),
		CreatedAt: time.Now(),
	}
	created, err := db.UpsertRemotePost(post)
	if err != nil {
		t.Fatalf("UpsertRemotePost failed: %v", err)
	}
	if !created {
		t.Error("Expected first ingest to create the post")
	}

	// Re-delivery with different content must not overwrite
	dup := *post
	dup.Id = uuid.New()
	dup.Content = "changed"
	created, err = db.UpsertRemotePost(&dup)
	if err != nil {
		t.Fatalf("Second UpsertRemotePost failed: %v", err)
	}
	if created {
		t.Error("Expected re-delivery to be a no-op")
	}

	got, err := db.ReadRemotePostByURI(post.ObjectURI)
	if err != nil {
		t.Fatalf("ReadRemotePostByURI failed: %v", err)
	}
	if got.Content != "original" {
		t.Errorf("Expected original content to survive re-delivery, got %q", got.Content)
	}
}

func TestCursorRoundtrip(t *testing.T) {
	now := time.Now()
	id := uuid.NewString()

	ts, gotId, err := decodeCursor(encodeCursor(now, id))
	if err != nil {
		t.Fatalf("decodeCursor failed: %v", err)
	}
	if !ts.Equal(now) {
		t.Errorf("Expected timestamp %v, got %v", now, ts)
	}
	if gotId != id {
		t.Errorf("Expected id %s, got %s", id, gotId)
	}
}
