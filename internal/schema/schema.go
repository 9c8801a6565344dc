package schema

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// CurrentVersion is the schema version written to workspace_meta on init.
const CurrentVersion = 1

// OpenDB opens (or creates) the SQLite database at path and configures it
// for single-writer WAL operation: WAL journaling, foreign keys on, and a
// busy timeout so concurrent readers don't immediately fail against the
// one writable connection.
func OpenDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// The store is a single logical writer; cap the pool so SQLite's own
	// file lock never contends with itself inside this process.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// InitDB creates all tables, indexes, and the one-row workspace_meta record
// if the database is new. It is idempotent: running it again against an
// already-initialized database is a no-op beyond the IF NOT EXISTS guards.
func InitDB(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin init tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := createTables(tx); err != nil {
		return err
	}
	if err := createIndexes(tx); err != nil {
		return err
	}
	if err := createTriggers(tx); err != nil {
		return err
	}
	if err := ensureWorkspaceMeta(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func createTables(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workspace_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL,
			db_id TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS topics (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL REFERENCES channels(id),
			title TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (channel_id, title)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			topic_id TEXT NOT NULL REFERENCES topics(id),
			channel_id TEXT NOT NULL REFERENCES channels(id),
			sender TEXT NOT NULL,
			content_raw TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			edited_at TEXT,
			deleted_at TEXT,
			deleted_by TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id TEXT PRIMARY KEY,
			topic_id TEXT NOT NULL REFERENCES topics(id),
			kind TEXT NOT NULL,
			key TEXT NOT NULL DEFAULT '',
			value_json TEXT NOT NULL,
			dedupe_key TEXT NOT NULL,
			source_message_id TEXT,
			created_at TEXT NOT NULL,
			UNIQUE (topic_id, kind, key, dedupe_key)
		)`,
		`CREATE TABLE IF NOT EXISTS enrichments (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id),
			kind TEXT NOT NULL,
			span_start INTEGER NOT NULL,
			span_end INTEGER NOT NULL,
			data_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			name TEXT NOT NULL,
			scope_channel_id TEXT,
			scope_topic_id TEXT,
			scope_topic_id2 TEXT,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			data_json TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func createIndexes(tx *sql.Tx) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_topics_channel ON topics(channel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_topic ON messages(topic_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_topic ON attachments(topic_id, kind)`,
		`CREATE INDEX IF NOT EXISTS idx_enrichments_message ON enrichments(message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_scope_channel ON events(scope_channel_id, event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_scope_topic ON events(scope_topic_id, event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_scope_topic2 ON events(scope_topic_id2, event_id)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// createTriggers installs the schema-level guards that make events
// append-only (no UPDATE/DELETE) and forbid hard deletion of messages (no
// DELETE, tombstone via UPDATE instead).
func createTriggers(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TRIGGER IF NOT EXISTS events_no_update
			BEFORE UPDATE ON events
			BEGIN
				SELECT RAISE(ABORT, 'events are append-only');
			END`,
		`CREATE TRIGGER IF NOT EXISTS events_no_delete
			BEFORE DELETE ON events
			BEGIN
				SELECT RAISE(ABORT, 'events are append-only');
			END`,
		`CREATE TRIGGER IF NOT EXISTS messages_no_hard_delete
			BEFORE DELETE ON messages
			BEGIN
				SELECT RAISE(ABORT, 'messages cannot be hard-deleted, tombstone instead');
			END`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("create trigger: %w", err)
		}
	}
	return nil
}

func ensureWorkspaceMeta(tx *sql.Tx) error {
	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM workspace_meta WHERE id = 1`).Scan(&count); err != nil {
		return fmt.Errorf("check workspace_meta: %w", err)
	}
	if count > 0 {
		return nil
	}
	dbID := newDBID()
	_, err := tx.Exec(
		`INSERT INTO workspace_meta (id, schema_version, db_id, created_at) VALUES (1, ?, ?, ?)`,
		CurrentVersion, dbID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert workspace_meta: %w", err)
	}
	return nil
}

func newDBID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Meta is the one-row workspace_meta record.
type Meta struct {
	SchemaVersion int
	DBID          string
	CreatedAt     string
}

// ReadMeta loads the workspace_meta row. It is an error for a correctly
// initialized database to be missing it.
func ReadMeta(db *sql.DB) (Meta, error) {
	var m Meta
	err := db.QueryRow(`SELECT schema_version, db_id, created_at FROM workspace_meta WHERE id = 1`).
		Scan(&m.SchemaVersion, &m.DBID, &m.CreatedAt)
	if err != nil {
		return Meta{}, fmt.Errorf("read workspace_meta: %w", err)
	}
	return m, nil
}

// Checkpoint runs a truncating WAL checkpoint, used by the daemon on clean
// shutdown so the on-disk WAL file doesn't grow unbounded across restarts.
func Checkpoint(db *sql.DB) error {
	_, err := db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}
