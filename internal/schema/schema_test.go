package schema

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := OpenDB(filepath.Join(dir, "db.sqlite3"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := InitDB(db); err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	return db
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func TestInitDBIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := InitDB(db); err != nil {
		t.Fatalf("second InitDB: %v", err)
	}
}

func TestReadMetaAfterInit(t *testing.T) {
	db := openTestDB(t)
	meta, err := ReadMeta(db)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta.SchemaVersion != CurrentVersion {
		t.Fatalf("schema version = %d, want %d", meta.SchemaVersion, CurrentVersion)
	}
	if meta.DBID == "" {
		t.Fatal("db_id is empty")
	}
}

func TestEventsAreAppendOnly(t *testing.T) {
	db := openTestDB(t)
	mustExec(t, db, `INSERT INTO events (ts, name, entity_type, entity_id, data_json)
		VALUES ('2024-01-01T00:00:00Z', 'channel.created', 'channel', 'ch_1', '{}')`)
	if _, err := db.Exec(`UPDATE events SET name = 'tampered' WHERE event_id = 1`); err == nil {
		t.Fatal("expected UPDATE on events to fail")
	}
	if _, err := db.Exec(`DELETE FROM events WHERE event_id = 1`); err == nil {
		t.Fatal("expected DELETE on events to fail")
	}
}

func TestMessagesCannotBeHardDeleted(t *testing.T) {
	db := openTestDB(t)
	mustExec(t, db, `INSERT INTO channels (id, name, created_at) VALUES ('ch_1','general','2024-01-01T00:00:00Z')`)
	mustExec(t, db, `INSERT INTO topics (id, channel_id, title, created_at, updated_at) VALUES ('tp_1','ch_1','t','2024-01-01T00:00:00Z','2024-01-01T00:00:00Z')`)
	mustExec(t, db, `INSERT INTO messages (id, topic_id, channel_id, sender, content_raw, created_at) VALUES ('msg_1','tp_1','ch_1','a','hello','2024-01-01T00:00:00Z')`)

	if _, err := db.Exec(`DELETE FROM messages WHERE id = 'msg_1'`); err == nil {
		t.Fatal("expected hard DELETE on messages to fail")
	}
}
