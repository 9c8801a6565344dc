// Package eventlog implements the append-only, strictly-ordered event log
// and its replay query. event_id is the sole cursor used by both WS fanout
// and the HTTP /events route.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leonletto/agentlip/internal/model"
)

// Append writes one event row inside tx and returns its assigned event_id.
// Callers (internal/mutate) always call this in the same transaction as the
// row change it describes, so invariant 1 (exactly one event per mutation,
// or one per affected row for multi-row ops) holds by construction.
func Append(ctx context.Context, tx *sql.Tx, e model.NewEvent) (int64, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return 0, fmt.Errorf("marshal event data: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (ts, name, scope_channel_id, scope_topic_id, scope_topic_id2, entity_type, entity_id, data_json)
		 VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)`,
		nowRFC3339(), e.Name, e.ChannelID, e.TopicID, e.TopicID2, e.EntityType, e.EntityID, string(data),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event last insert id: %w", err)
	}
	return id, nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// LatestEventID returns MAX(event_id), or 0 if the log is empty. WS
// handshake uses this once to capture replay_until for the connection's
// lifetime.
func LatestEventID(ctx context.Context, db *sql.DB) (int64, error) {
	var max sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(event_id) FROM events`).Scan(&max); err != nil {
		return 0, fmt.Errorf("max event_id: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// ReplayFilter selects which events match a subscription. Wildcard set to
// true means everything matches, whatever Channels and Topics hold. An
// event matches a non-wildcard filter if its
// scope_channel_id is in Channels, or either scope_topic_id or
// scope_topic_id2 is in Topics (OR semantics across both fields and both
// lists, per spec §4.4 and its Open Question on AND vs OR).
type ReplayFilter struct {
	Wildcard bool
	Channels map[string]struct{}
	Topics   map[string]struct{}
}

// Matches reports whether an event with the given scopes satisfies f.
func (f ReplayFilter) Matches(scopeChannelID, scopeTopicID, scopeTopicID2 string) bool {
	if f.Wildcard {
		return true
	}
	if scopeChannelID != "" {
		if _, ok := f.Channels[scopeChannelID]; ok {
			return true
		}
	}
	if scopeTopicID != "" {
		if _, ok := f.Topics[scopeTopicID]; ok {
			return true
		}
	}
	if scopeTopicID2 != "" {
		if _, ok := f.Topics[scopeTopicID2]; ok {
			return true
		}
	}
	return false
}

// Empty reports whether a non-wildcard filter subscribes to nothing at all
// (both sets nil or empty) — a legal handshake that completes with no
// replay ever emitted.
func (f ReplayFilter) Empty() bool {
	return !f.Wildcard && len(f.Channels) == 0 && len(f.Topics) == 0
}

// fetchBatchSize is how many raw rows fetchRange pulls per round trip while
// Replay pages through a wide, sparsely-matching range.
const fetchBatchSize = 1000

// Replay returns events with afterEventID < event_id <= replayUntil that
// match filter f, ordered by event_id ascending, bounded by limit (0 means
// the default batch size of 1000 per spec §6's size limits). It pages
// through the underlying range in fetchRange-sized batches until it has
// collected limit matches or the range is exhausted, so a sparse match
// ratio over a wide range never silently drops events that a later batch
// would have found (spec.md:64/109 replay-completeness, property 4). The
// query is deterministic: identical inputs against a stable database yield
// byte-identical output, since ordering is a single ascending scan over an
// indexed integer column with no ambiguous tie-breaks.
func Replay(ctx context.Context, db *sql.DB, afterEventID, replayUntil int64, filter ReplayFilter, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 1000
	}

	out := make([]model.Event, 0, limit)
	cursor := afterEventID
	for cursor < replayUntil && len(out) < limit {
		rows, err := fetchRange(ctx, db, cursor, replayUntil, fetchBatchSize)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		for _, e := range rows {
			if filter.Matches(e.ScopeChannelID, e.ScopeTopicID, e.ScopeTopicID2) {
				out = append(out, e)
				if len(out) >= limit {
					break
				}
			}
		}
		cursor = rows[len(rows)-1].EventID
	}
	return out, nil
}

// fetchRange performs one raw ordered range scan of at most fetchLimit rows.
// Filtering happens in Go rather than SQL because the OR-across-three-columns
// predicate (channel OR topic OR topic2, each against a caller-supplied
// set) does not reduce to a single index range; the scope-indexed columns
// still make the range scan itself cheap. Replay calls this repeatedly,
// advancing the cursor by the last row returned, until it has enough
// matches or the range is exhausted.
func fetchRange(ctx context.Context, db *sql.DB, afterEventID, replayUntil int64, fetchLimit int) ([]model.Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT event_id, ts, name, COALESCE(scope_channel_id,''), COALESCE(scope_topic_id,''), COALESCE(scope_topic_id2,''), entity_type, entity_id, data_json
		 FROM events
		 WHERE event_id > ? AND event_id <= ?
		 ORDER BY event_id ASC
		 LIMIT ?`,
		afterEventID, replayUntil, fetchLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("replay query: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			e     model.Event
			tsStr string
			data  string
		)
		if err := rows.Scan(&e.EventID, &tsStr, &e.Name, &e.ScopeChannelID, &e.ScopeTopicID, &e.ScopeTopicID2, &e.EntityType, &e.EntityID, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parse event ts: %w", err)
		}
		e.Ts = ts
		e.DataJSON = data
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("replay rows: %w", err)
	}
	return out, nil
}
