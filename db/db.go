package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"tusker/domain"
)

// DB is the sqlite-backed record store. Open one per process and pass it
// around explicitly; there is no package-level instance.
type DB struct {
	db  *sql.DB
	log *log.Logger
}

const (
	sqlInsertAccount = `INSERT INTO accounts(id, username, display_name, summary, avatar_url, header_url, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateProfile = `UPDATE accounts SET display_name = ?, summary = ?, avatar_url = ?, header_url = ? WHERE username = ?`

	sqlSelectAccountByUsername = `SELECT id, username, display_name, summary, avatar_url, header_url, created_at FROM accounts WHERE username = ?`
	sqlSelectAccountById       = `SELECT id, username, display_name, summary, avatar_url, header_url, created_at FROM accounts WHERE id = ?`
	sqlCountAccounts           = `SELECT COUNT(*) FROM accounts`
	sqlSelectFirstAccount      = `SELECT id, username, display_name, summary, avatar_url, header_url, created_at FROM accounts ORDER BY created_at ASC LIMIT 1`

	sqlInsertKeyPair        = `INSERT INTO account_keys(id, username, algorithm, public_pem, private_pem, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectKeysByUsername = `SELECT id, username, algorithm, public_pem, private_pem, created_at FROM account_keys WHERE username = ? ORDER BY created_at ASC, algorithm ASC`

	sqlInsertNote            = `INSERT INTO notes(id, user_id, message, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectNoteById        = `SELECT notes.id, accounts.username, notes.message, notes.created_at FROM notes
									INNER JOIN accounts ON accounts.id = notes.user_id
									WHERE notes.id = ?`
	sqlSelectNotesByUsername = `SELECT notes.id, accounts.username, notes.message, notes.created_at FROM notes
									INNER JOIN accounts ON accounts.id = notes.user_id
									WHERE accounts.username = ?
									ORDER BY notes.created_at DESC
									LIMIT ? OFFSET ?`
	sqlCountNotesByUsername  = `SELECT COUNT(*) FROM notes
									INNER JOIN accounts ON accounts.id = notes.user_id
									WHERE accounts.username = ?`
	sqlCountNotes            = `SELECT COUNT(*) FROM notes`
)

// Open opens (and creates if necessary) the sqlite database at path and
// tunes it for a concurrent federation workload.
func Open(path string, logger *log.Logger) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	sqldb.SetMaxOpenConns(25)
	sqldb.SetMaxIdleConns(5)
	sqldb.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := sqldb.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		logger.Warn("failed to enable WAL mode", "err", err)
	} else {
		logger.Debug("database journal mode", "mode", journalMode)
	}

	sqldb.Exec("PRAGMA synchronous = NORMAL")
	sqldb.Exec("PRAGMA cache_size = -64000")
	sqldb.Exec("PRAGMA temp_store = MEMORY")
	sqldb.Exec("PRAGMA busy_timeout = 5000")
	sqldb.Exec("PRAGMA foreign_keys = ON")

	return &DB{db: sqldb, log: logger}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) CreateAccount(username string, displayName string, summary string) (*domain.Account, error) {
	acc := &domain.Account{
		Id:          uuid.New(),
		Username:    username,
		DisplayName: displayName,
		Summary:     summary,
		CreatedAt:   time.Now(),
	}
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount,
			acc.Id.String(), acc.Username, acc.DisplayName, acc.Summary, acc.AvatarURL, acc.HeaderURL, acc.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (db *DB) UpdateProfile(username string, displayName, summary, avatarURL, headerURL string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateProfile, displayName, summary, avatarURL, headerURL, username)
		return err
	})
}

func (db *DB) ReadAccByUsername(username string) (*domain.Account, error) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccountByUsername, username))
}

func (db *DB) ReadAccById(id uuid.UUID) (*domain.Account, error) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccountById, id.String()))
}

func (db *DB) scanAccount(row *sql.Row) (*domain.Account, error) {
	var acc domain.Account
	var idStr string
	err := row.Scan(&idStr, &acc.Username, &acc.DisplayName, &acc.Summary, &acc.AvatarURL, &acc.HeaderURL, &acc.CreatedAt)
	if err != nil {
		return nil, err
	}
	acc.Id, _ = uuid.Parse(idStr)
	return &acc, nil
}

// ReadFirstAccount returns the server's account. This is a single-actor
// server; the oldest account is the canonical one.
func (db *DB) ReadFirstAccount() (*domain.Account, error) {
	return db.scanAccount(db.db.QueryRow(sqlSelectFirstAccount))
}

func (db *DB) CountAccounts() (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountAccounts).Scan(&n)
	return n, err
}

// CreateKeyPair persists a freshly generated key. The (username, algorithm)
// unique constraint means a lost race surfaces as an error here, not as a
// second key silently replacing the first.
func (db *DB) CreateKeyPair(kp *domain.KeyPair) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertKeyPair,
			kp.Id.String(), kp.Username, string(kp.Algorithm), kp.PublicPem, kp.PrivatePem, kp.CreatedAt)
		return err
	})
}

func (db *DB) ReadKeysByUsername(username string) ([]domain.KeyPair, error) {
	rows, err := db.db.Query(sqlSelectKeysByUsername, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.KeyPair
	for rows.Next() {
		var kp domain.KeyPair
		var idStr, alg string
		if err := rows.Scan(&idStr, &kp.Username, &alg, &kp.PublicPem, &kp.PrivatePem, &kp.CreatedAt); err != nil {
			return nil, err
		}
		kp.Id, _ = uuid.Parse(idStr)
		kp.Algorithm = domain.KeyAlgorithm(alg)
		keys = append(keys, kp)
	}
	return keys, rows.Err()
}

func (db *DB) CreateNote(userId uuid.UUID, message string) (*domain.Note, error) {
	note := &domain.Note{
		Id:        uuid.New(),
		Message:   message,
		CreatedAt: time.Now(),
	}
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNote, note.Id.String(), userId.String(), note.Message, note.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

func (db *DB) ReadNoteById(id uuid.UUID) (*domain.Note, error) {
	var note domain.Note
	var idStr string
	row := db.db.QueryRow(sqlSelectNoteById, id.String())
	if err := row.Scan(&idStr, &note.CreatedBy, &note.Message, &note.CreatedAt); err != nil {
		return nil, err
	}
	note.Id, _ = uuid.Parse(idStr)
	return &note, nil
}

func (db *DB) ReadNotesByUsername(username string, limit, offset int) ([]domain.Note, error) {
	rows, err := db.db.Query(sqlSelectNotesByUsername, username, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		var note domain.Note
		var idStr string
		if err := rows.Scan(&idStr, &note.CreatedBy, &note.Message, &note.CreatedAt); err != nil {
			return nil, err
		}
		note.Id, _ = uuid.Parse(idStr)
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

func (db *DB) CountNotesByUsername(username string) (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountNotesByUsername, username).Scan(&n)
	return n, err
}

func (db *DB) CountNotes() (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountNotes).Scan(&n)
	return n, err
}

// wrapTransaction runs f within a transaction, retrying on SQLITE_BUSY.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		db.log.Error("starting transaction", "err", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		if err = tx.Commit(); err != nil {
			db.log.Error("committing transaction", "err", err)
			return err
		}
		break
	}
	return nil
}
