package eventlog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/leonletto/agentlip/internal/model"
	"github.com/leonletto/agentlip/internal/schema"
)

func rawOpen(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := schema.OpenDB(filepath.Join(dir, "db.sqlite3"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	if err := schema.InitDB(db); err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAppendAssignsAscendingEventIDs(t *testing.T) {
	ctx := context.Background()
	db := rawOpen(t)

	var ids []int64
	for i := 0; i < 5; i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		id, err := Append(ctx, tx, model.NewEvent{
			Name: "channel.created", ChannelID: "ch_1", EntityType: "channel", EntityID: "ch_1",
			Data: map[string]any{"i": i},
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("event ids not strictly increasing: %v", ids)
		}
	}

	latest, err := LatestEventID(ctx, db)
	if err != nil {
		t.Fatalf("LatestEventID: %v", err)
	}
	if latest != ids[len(ids)-1] {
		t.Fatalf("LatestEventID = %d, want %d", latest, ids[len(ids)-1])
	}
}

func TestReplayBoundaryIsDeterministicAndFiltered(t *testing.T) {
	ctx := context.Background()
	db := rawOpen(t)

	for i := 0; i < 10; i++ {
		tx, _ := db.BeginTx(ctx, nil)
		ch := "ch_1"
		if i%2 == 0 {
			ch = "ch_2"
		}
		if _, err := Append(ctx, tx, model.NewEvent{
			Name: "message.created", ChannelID: ch, EntityType: "message", EntityID: "msg",
			Data: map[string]any{},
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
		tx.Commit()
	}

	filter := ReplayFilter{Channels: map[string]struct{}{"ch_1": {}}}
	got1, err := Replay(ctx, db, 0, 10, filter, 100)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	got2, err := Replay(ctx, db, 0, 10, filter, 100)
	if err != nil {
		t.Fatalf("replay again: %v", err)
	}
	if len(got1) != len(got2) {
		t.Fatalf("non-deterministic replay: %d vs %d", len(got1), len(got2))
	}
	for i := range got1 {
		if got1[i].EventID != got2[i].EventID {
			t.Fatalf("replay order differs at %d", i)
		}
	}
	if len(got1) != 5 {
		t.Fatalf("expected 5 events scoped to ch_1, got %d", len(got1))
	}
	for i := 1; i < len(got1); i++ {
		if got1[i].EventID <= got1[i-1].EventID {
			t.Fatal("replay not ascending")
		}
	}
}

func TestReplayRecoversSparseMatchesBeyondFirstBatch(t *testing.T) {
	ctx := context.Background()
	db := rawOpen(t)

	// Seed far more rows than fetchBatchSize with the target channel's
	// events packed at the tail, so a single-batch fetch (the old
	// limit*4 heuristic) would exhaust its budget on "ch_noise" rows and
	// never reach them.
	const total = fetchBatchSize*2 + 50
	const wantMatches = 3
	for i := 0; i < total; i++ {
		ch := "ch_noise"
		if i >= total-wantMatches {
			ch = "ch_1"
		}
		tx, _ := db.BeginTx(ctx, nil)
		if _, err := Append(ctx, tx, model.NewEvent{
			Name: "message.created", ChannelID: ch, EntityType: "message", EntityID: "msg",
			Data: map[string]any{},
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
		tx.Commit()
	}

	filter := ReplayFilter{Channels: map[string]struct{}{"ch_1": {}}}
	got, err := Replay(ctx, db, 0, int64(total), filter, 100)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(got) != wantMatches {
		t.Fatalf("got %d matches, want %d (sparse matches beyond the first batch were dropped)", len(got), wantMatches)
	}
}

func TestWildcardFilterMatchesEverything(t *testing.T) {
	f := ReplayFilter{Wildcard: true}
	if !f.Matches("", "", "") {
		t.Fatal("wildcard filter should match an event with no scopes")
	}
}

func TestEmptyFilterSubscribesToNothing(t *testing.T) {
	f := ReplayFilter{Channels: map[string]struct{}{}, Topics: map[string]struct{}{}}
	if !f.Empty() {
		t.Fatal("filter with empty channel and topic sets should be Empty()")
	}
	if f.Matches("ch_1", "", "") {
		t.Fatal("empty filter should match nothing")
	}
}
