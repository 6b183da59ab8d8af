package db

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tusker/domain"
)

// Remote actor cache. The upsert keeps the cache fresh without a separate
// insert-then-update dance.
const (
	sqlUpsertRemoteAccount      = `INSERT INTO remote_accounts(id, username, domain, actor_uri, display_name, summary, inbox_uri, shared_inbox_uri, outbox_uri, public_key_pem, avatar_url, last_fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(actor_uri) DO UPDATE SET
			username = excluded.username,
			domain = excluded.domain,
			display_name = excluded.display_name,
			summary = excluded.summary,
			inbox_uri = excluded.inbox_uri,
			shared_inbox_uri = excluded.shared_inbox_uri,
			outbox_uri = excluded.outbox_uri,
			public_key_pem = excluded.public_key_pem,
			avatar_url = excluded.avatar_url,
			last_fetched_at = excluded.last_fetched_at`
	sqlSelectRemoteAccountByURI = `SELECT id, username, domain, actor_uri, display_name, summary, inbox_uri, shared_inbox_uri, outbox_uri, public_key_pem, avatar_url, last_fetched_at FROM remote_accounts WHERE actor_uri = ?`
)

func (db *DB) UpsertRemoteAccount(acc *domain.RemoteAccount) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertRemoteAccount,
			acc.Id.String(), acc.Username, acc.Domain, acc.ActorURI, acc.DisplayName, acc.Summary,
			acc.InboxURI, acc.SharedInboxURI, acc.OutboxURI, acc.PublicKeyPem, acc.AvatarURL, acc.LastFetchedAt)
		return err
	})
}

func (db *DB) ReadRemoteAccountByURI(uri string) (*domain.RemoteAccount, error) {
	row := db.db.QueryRow(sqlSelectRemoteAccountByURI, uri)
	var acc domain.RemoteAccount
	var idStr string
	err := row.Scan(&idStr, &acc.Username, &acc.Domain, &acc.ActorURI, &acc.DisplayName, &acc.Summary,
		&acc.InboxURI, &acc.SharedInboxURI, &acc.OutboxURI, &acc.PublicKeyPem, &acc.AvatarURL, &acc.LastFetchedAt)
	if err != nil {
		return nil, err
	}
	acc.Id, _ = uuid.Parse(idStr)
	return &acc, nil
}

// Follow edges
const (
	sqlUpsertFollow           = `INSERT INTO follows(id, follower_uri, following_uri, uri, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(follower_uri, following_uri) DO NOTHING`
	sqlDeleteFollow           = `DELETE FROM follows WHERE follower_uri = ? AND following_uri = ?`
	sqlDeleteFollowByActivity = `DELETE FROM follows WHERE uri = ?`
	sqlSelectFollow           = `SELECT id, follower_uri, following_uri, uri, created_at FROM follows WHERE follower_uri = ? AND following_uri = ?`
	sqlCountFollowers         = `SELECT COUNT(*) FROM follows WHERE following_uri = ?`
	sqlCountFollowing         = `SELECT COUNT(*) FROM follows WHERE follower_uri = ?`
	sqlSelectAllFollowers     = `SELECT id, follower_uri, following_uri, uri, created_at FROM follows WHERE following_uri = ? ORDER BY created_at DESC, id DESC`
	sqlSelectFollowersPage    = `SELECT id, follower_uri, following_uri, uri, created_at FROM follows WHERE following_uri = ? AND (created_at < ? OR (created_at = ? AND id < ?)) ORDER BY created_at DESC, id DESC LIMIT ?`
	sqlSelectFollowersFirst   = `SELECT id, follower_uri, following_uri, uri, created_at FROM follows WHERE following_uri = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	sqlSelectFollowingPage    = `SELECT id, follower_uri, following_uri, uri, created_at FROM follows WHERE follower_uri = ? AND (created_at < ? OR (created_at = ? AND id < ?)) ORDER BY created_at DESC, id DESC LIMIT ?`
	sqlSelectFollowingFirst   = `SELECT id, follower_uri, following_uri, uri, created_at FROM follows WHERE follower_uri = ? ORDER BY created_at DESC, id DESC LIMIT ?`
)

// UpsertFollow inserts the edge if absent. Returns true when a new edge was
// created, false when it already existed (which is success, not a conflict).
func (db *DB) UpsertFollow(edge *domain.FollowEdge) (bool, error) {
	var created bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpsertFollow,
			edge.Id.String(), edge.FollowerURI, edge.FollowingURI, edge.ActivityURI, edge.CreatedAt)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		created = n > 0
		return err
	})
	return created, err
}

// DeleteFollow removes the edge for the ordered pair. Deleting an absent edge
// is a no-op.
func (db *DB) DeleteFollow(followerURI, followingURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollow, followerURI, followingURI)
		return err
	})
}

func (db *DB) DeleteFollowByActivityURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByActivity, uri)
		return err
	})
}

func (db *DB) ReadFollow(followerURI, followingURI string) (*domain.FollowEdge, error) {
	row := db.db.QueryRow(sqlSelectFollow, followerURI, followingURI)
	return scanFollow(row.Scan)
}

func (db *DB) CountFollowers(followingURI string) (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountFollowers, followingURI).Scan(&n)
	return n, err
}

func (db *DB) CountFollowing(followerURI string) (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountFollowing, followerURI).Scan(&n)
	return n, err
}

// ReadAllFollowers returns the complete follower edge set, newest first.
// Used by the delivery engine, which expands "followers" at send time.
func (db *DB) ReadAllFollowers(followingURI string) ([]domain.FollowEdge, error) {
	rows, err := db.db.Query(sqlSelectAllFollowers, followingURI)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFollows(rows)
}

// ListFollowers returns one page of follower edges plus the cursor for the
// next page (empty when exhausted).
func (db *DB) ListFollowers(followingURI string, limit int, cursor string) ([]domain.FollowEdge, string, error) {
	return db.listFollowPage(sqlSelectFollowersFirst, sqlSelectFollowersPage, followingURI, limit, cursor)
}

func (db *DB) ListFollowing(followerURI string, limit int, cursor string) ([]domain.FollowEdge, string, error) {
	return db.listFollowPage(sqlSelectFollowingFirst, sqlSelectFollowingPage, followerURI, limit, cursor)
}

func (db *DB) listFollowPage(firstQuery, pageQuery, uri string, limit int, cursor string) ([]domain.FollowEdge, string, error) {
	rows, err := db.pageQuery(firstQuery, pageQuery, uri, limit, cursor)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	edges, err := collectFollows(rows)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(edges) == limit {
		last := edges[len(edges)-1]
		next = encodeCursor(last.CreatedAt, last.Id.String())
	}
	return edges, next, nil
}

func scanFollow(scan func(...any) error) (*domain.FollowEdge, error) {
	var edge domain.FollowEdge
	var idStr string
	if err := scan(&idStr, &edge.FollowerURI, &edge.FollowingURI, &edge.ActivityURI, &edge.CreatedAt); err != nil {
		return nil, err
	}
	edge.Id, _ = uuid.Parse(idStr)
	return &edge, nil
}

func collectFollows(rows *sql.Rows) ([]domain.FollowEdge, error) {
	var edges []domain.FollowEdge
	for rows.Next() {
		edge, err := scanFollow(rows.Scan)
		if err != nil {
			return nil, err
		}
		edges = append(edges, *edge)
	}
	return edges, rows.Err()
}

// Engagement edges
const (
	sqlUpsertEngagement       = `INSERT INTO engagements(id, kind, actor_uri, object_uri, uri, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, actor_uri, object_uri) DO NOTHING`
	sqlDeleteEngagement       = `DELETE FROM engagements WHERE kind = ? AND actor_uri = ? AND object_uri = ?`
	sqlCountEngagements       = `SELECT COUNT(*) FROM engagements WHERE kind = ? AND object_uri = ?`
	sqlSelectEngagementsFirst = `SELECT id, kind, actor_uri, object_uri, uri, created_at FROM engagements WHERE kind = ? AND object_uri = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	sqlSelectEngagementsPage  = `SELECT id, kind, actor_uri, object_uri, uri, created_at FROM engagements WHERE kind = ? AND object_uri = ? AND (created_at < ? OR (created_at = ? AND id < ?)) ORDER BY created_at DESC, id DESC LIMIT ?`
)

func (db *DB) UpsertEngagement(edge *domain.EngagementEdge) (bool, error) {
	var created bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpsertEngagement,
			edge.Id.String(), string(edge.Kind), edge.ActorURI, edge.ObjectURI, edge.ActivityURI, edge.CreatedAt)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		created = n > 0
		return err
	})
	return created, err
}

func (db *DB) DeleteEngagement(kind domain.EngagementKind, actorURI, objectURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteEngagement, string(kind), actorURI, objectURI)
		return err
	})
}

func (db *DB) CountEngagements(kind domain.EngagementKind, objectURI string) (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountEngagements, string(kind), objectURI).Scan(&n)
	return n, err
}

func (db *DB) ListEngagements(kind domain.EngagementKind, objectURI string, limit int, cursor string) ([]domain.EngagementEdge, string, error) {
	var rows *sql.Rows
	var err error
	if cursor == "" {
		rows, err = db.db.Query(sqlSelectEngagementsFirst, string(kind), objectURI, limit)
	} else {
		ts, id, derr := decodeCursor(cursor)
		if derr != nil {
			return nil, "", derr
		}
		rows, err = db.db.Query(sqlSelectEngagementsPage, string(kind), objectURI, ts, ts, id, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var edges []domain.EngagementEdge
	for rows.Next() {
		var edge domain.EngagementEdge
		var idStr, kindStr string
		if err := rows.Scan(&idStr, &kindStr, &edge.ActorURI, &edge.ObjectURI, &edge.ActivityURI, &edge.CreatedAt); err != nil {
			return nil, "", err
		}
		edge.Id, _ = uuid.Parse(idStr)
		edge.Kind = domain.EngagementKind(kindStr)
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(edges) == limit {
		last := edges[len(edges)-1]
		next = encodeCursor(last.CreatedAt, last.Id.String())
	}
	return edges, next, nil
}

// Remote posts
const (
	sqlUpsertRemotePost       = `INSERT INTO remote_posts(id, object_uri, actor_uri, content, published, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(object_uri) DO NOTHING`
	sqlSelectRemotePostByURI  = `SELECT id, object_uri, actor_uri, content, published, created_at FROM remote_posts WHERE object_uri = ?`
	sqlSelectRemotePostsFirst = `SELECT id, object_uri, actor_uri, content, published, created_at FROM remote_posts ORDER BY created_at DESC, id DESC LIMIT ?`
	sqlSelectRemotePostsPage  = `SELECT id, object_uri, actor_uri, content, published, created_at FROM remote_posts WHERE created_at < ? OR (created_at = ? AND id < ?) ORDER BY created_at DESC, id DESC LIMIT ?`
)

// UpsertRemotePost stores an ingested note once; re-delivery of the same
// object URI changes nothing.
func (db *DB) UpsertRemotePost(post *domain.RemotePost) (bool, error) {
	var created bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpsertRemotePost,
			post.Id.String(), post.ObjectURI, post.ActorURI, post.Content, post.Published, post.CreatedAt)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		created = n > 0
		return err
	})
	return created, err
}

func (db *DB) ReadRemotePostByURI(uri string) (*domain.RemotePost, error) {
	row := db.db.QueryRow(sqlSelectRemotePostByURI, uri)
	var post domain.RemotePost
	var idStr string
	if err := row.Scan(&idStr, &post.ObjectURI, &post.ActorURI, &post.Content, &post.Published, &post.CreatedAt); err != nil {
		return nil, err
	}
	post.Id, _ = uuid.Parse(idStr)
	return &post, nil
}

func (db *DB) ListRemotePosts(limit int, cursor string) ([]domain.RemotePost, string, error) {
	var rows *sql.Rows
	var err error
	if cursor == "" {
		rows, err = db.db.Query(sqlSelectRemotePostsFirst, limit)
	} else {
		ts, id, derr := decodeCursor(cursor)
		if derr != nil {
			return nil, "", derr
		}
		rows, err = db.db.Query(sqlSelectRemotePostsPage, ts, ts, id, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var posts []domain.RemotePost
	for rows.Next() {
		var post domain.RemotePost
		var idStr string
		if err := rows.Scan(&idStr, &post.ObjectURI, &post.ActorURI, &post.Content, &post.Published, &post.CreatedAt); err != nil {
			return nil, "", err
		}
		post.Id, _ = uuid.Parse(idStr)
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(posts) == limit {
		last := posts[len(posts)-1]
		next = encodeCursor(last.CreatedAt, last.Id.String())
	}
	return posts, next, nil
}

func (db *DB) pageQuery(firstQuery, pageQuery, key string, limit int, cursor string) (*sql.Rows, error) {
	if cursor == "" {
		return db.db.Query(firstQuery, key, limit)
	}
	ts, id, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	return db.db.Query(pageQuery, key, ts, ts, id, limit)
}

// Cursors are an opaque keyset position: base64 of "<unixnano>:<row id>".
func encodeCursor(t time.Time, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf("%d:%s", t.UnixNano(), id)))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor: %w", err)
	}
	return time.Unix(0, nanos), parts[1], nil
}
