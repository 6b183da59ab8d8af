package db

import (
	"database/sql"
)

const (
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		display_name TEXT,
		summary TEXT,
		avatar_url TEXT,
		header_url TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateAccountKeysTable = `CREATE TABLE IF NOT EXISTS account_keys (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		algorithm TEXT NOT NULL,
		public_pem TEXT NOT NULL,
		private_pem TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, algorithm)
	)`

	sqlCreateNotesTable = `CREATE TABLE IF NOT EXISTS notes (
		id TEXT NOT NULL PRIMARY KEY,
		user_id TEXT NOT NULL,
		message TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateNotesIndices = `
		CREATE INDEX IF NOT EXISTS idx_notes_user_id ON notes(user_id);
		CREATE INDEX IF NOT EXISTS idx_notes_created_at ON notes(created_at DESC);
	`

	// Remote actor cache
	sqlCreateRemoteAccountsTable = `CREATE TABLE IF NOT EXISTS remote_accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL,
		actor_uri TEXT UNIQUE NOT NULL,
		display_name TEXT,
		summary TEXT,
		inbox_uri TEXT NOT NULL,
		shared_inbox_uri TEXT,
		outbox_uri TEXT,
		public_key_pem TEXT NOT NULL,
		avatar_url TEXT,
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateRemoteAccountsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_actor_uri ON remote_accounts(actor_uri);
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_domain ON remote_accounts(domain);
	`

	// Follow edges: at most one edge per ordered (follower, following) pair.
	// The constraint lives in the schema so concurrent identical requests
	// cannot race past an application-level check.
	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		follower_uri TEXT NOT NULL,
		following_uri TEXT NOT NULL,
		uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(follower_uri, following_uri)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_follower_uri ON follows(follower_uri);
		CREATE INDEX IF NOT EXISTS idx_follows_following_uri ON follows(following_uri);
	`

	// Engagement edges (likes and announces), one per (kind, actor, object).
	sqlCreateEngagementsTable = `CREATE TABLE IF NOT EXISTS engagements (
		id TEXT NOT NULL PRIMARY KEY,
		kind TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT NOT NULL,
		uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(kind, actor_uri, object_uri)
	)`

	sqlCreateEngagementsIndices = `
		CREATE INDEX IF NOT EXISTS idx_engagements_object_uri ON engagements(object_uri);
		CREATE INDEX IF NOT EXISTS idx_engagements_actor_uri ON engagements(actor_uri);
	`

	// Remote posts ingested via Create(Note), keyed by object URI.
	sqlCreateRemotePostsTable = `CREATE TABLE IF NOT EXISTS remote_posts (
		id TEXT NOT NULL PRIMARY KEY,
		object_uri TEXT UNIQUE NOT NULL,
		actor_uri TEXT NOT NULL,
		content TEXT,
		published TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateRemotePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_posts_actor_uri ON remote_posts(actor_uri);
		CREATE INDEX IF NOT EXISTS idx_remote_posts_created_at ON remote_posts(created_at DESC);
	`
)

// RunMigrations creates all tables and indices. Statements are idempotent,
// re-running on startup is safe.
func (db *DB) RunMigrations() error {
	tables := []string{
		sqlCreateAccountsTable,
		sqlCreateAccountKeysTable,
		sqlCreateNotesTable,
		sqlCreateRemoteAccountsTable,
		sqlCreateFollowsTable,
		sqlCreateEngagementsTable,
		sqlCreateRemotePostsTable,
	}

	indices := []string{
		sqlCreateNotesIndices,
		sqlCreateRemoteAccountsIndices,
		sqlCreateFollowsIndices,
		sqlCreateEngagementsIndices,
		sqlCreateRemotePostsIndices,
	}

	err := db.wrapTransaction(func(tx *sql.Tx) error {
		for _, stmt := range tables {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return db.wrapTransaction(func(tx *sql.Tx) error {
		for _, stmt := range indices {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	})
}
