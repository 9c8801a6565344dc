package wsfanout

import (
	"context"
	"database/sql"

	"github.com/leonletto/agentlip/internal/eventlog"
)

// NewDBReplayFunc builds a ReplayFunc backed by eventlog.Replay against db,
// bounded by maxBatch per the replay batch size limit (spec §6).
func NewDBReplayFunc(db *sql.DB, maxBatch int) ReplayFunc {
	return func(ctx context.Context, afterEventID, replayUntil int64, filter eventlog.ReplayFilter) ([]eventFrameEvent, error) {
		events, err := eventlog.Replay(ctx, db, afterEventID, replayUntil, filter, maxBatch)
		if err != nil {
			return nil, err
		}
		out := make([]eventFrameEvent, 0, len(events))
		for _, e := range events {
			out = append(out, eventFrameEvent{
				EventID: e.EventID, Ts: e.Ts, Name: e.Name,
				ScopeChannelID: e.ScopeChannelID, ScopeTopicID: e.ScopeTopicID, ScopeTopicID2: e.ScopeTopicID2,
				DataJSON: e.DataJSON,
			})
		}
		return out, nil
	}
}
