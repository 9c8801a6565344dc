package plugin

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/leonletto/agentlip/internal/eventlog"
	"github.com/leonletto/agentlip/internal/model"
	"github.com/leonletto/agentlip/internal/mutate"
)

// maxAttachmentValueBytes is the 16 KiB serialized-size limit on extractor
// output (spec §4.5).
const maxAttachmentValueBytes = 16 * 1024

// snapshot is the immutable (message_id, content_raw, version) tuple
// captured before a plugin runs (spec §4.5 "Snapshot").
type snapshot struct {
	MessageID  string
	TopicID    string
	ChannelID  string
	ContentRaw string
	Version    int
}

// Pipeline runs configured plugins against newly-created or edited messages
// and commits their output under a staleness guard.
type Pipeline struct {
	ops     *mutate.Ops
	plugins []Config
	breaker *CircuitBreaker
}

// NewPipeline returns a Pipeline bound to ops, running plugins in the order
// given, sharing breaker across calls (one breaker per daemon instance).
func NewPipeline(ops *mutate.Ops, plugins []Config, breaker *CircuitBreaker) *Pipeline {
	if breaker == nil {
		breaker = NewCircuitBreaker(0, 0)
	}
	return &Pipeline{ops: ops, plugins: plugins, breaker: breaker}
}

// RunForMessage executes every configured plugin against messageID in
// order. One plugin's failure never stops the rest (spec §4.5 "Failure
// isolation"). It returns the event ids appended by successful commits, in
// the order they were appended; a nil-returning plugin run (empty output,
// circuit open, timeout, staleness rejection) contributes none.
func (p *Pipeline) RunForMessage(ctx context.Context, messageID string) []int64 {
	msg, err := p.ops.LoadMessage(ctx, messageID)
	if err != nil {
		return nil
	}
	if msg.IsDeleted() {
		return nil
	}
	snap := snapshot{MessageID: msg.ID, TopicID: msg.TopicID, ChannelID: msg.ChannelID, ContentRaw: msg.ContentRaw, Version: msg.Version}

	var eventIDs []int64
	for _, cfg := range p.plugins {
		ids := p.runOne(ctx, cfg, snap)
		eventIDs = append(eventIDs, ids...)
	}
	return eventIDs
}

func (p *Pipeline) runOne(ctx context.Context, cfg Config, snap snapshot) []int64 {
	if !p.breaker.Allow(cfg.Name) {
		return nil // CIRCUIT_OPEN: returns without spawning, not recorded as a new failure
	}

	out, err := runWorker(ctx, cfg, snap.ContentRaw)
	if err != nil {
		p.breaker.RecordFailure(cfg.Name)
		return nil
	}

	switch cfg.Kind {
	case KindLinkifier:
		if err := validateLinkifierOutput(out.Linkifier); err != nil {
			p.breaker.RecordFailure(cfg.Name)
			return nil
		}
		id, ok := p.commitLinkifier(ctx, cfg.Name, snap, out.Linkifier)
		if !ok {
			// Staleness rejection is a silent discard, not a plugin
			// failure: the plugin itself behaved correctly.
			return nil
		}
		p.breaker.RecordSuccess(cfg.Name)
		if id == nil {
			return nil
		}
		return []int64{*id}
	case KindExtractor:
		if err := validateExtractorOutput(out.Extractor); err != nil {
			p.breaker.RecordFailure(cfg.Name)
			return nil
		}
		ids, ok := p.commitExtractor(ctx, snap, out.Extractor)
		if !ok {
			return nil
		}
		p.breaker.RecordSuccess(cfg.Name)
		return ids
	default:
		p.breaker.RecordFailure(cfg.Name)
		return nil
	}
}

// checkStale re-reads the message inside tx and reports the staleness
// reason, if any, per spec §4.5's ordering: version is checked before
// content so an edit-and-revert (same content, higher version) is still
// rejected as STALE_VERSION, not accepted as unchanged.
func checkStale(ctx context.Context, tx *sql.Tx, snap snapshot) error {
	cur, err := mutate.LoadMessageTx(ctx, tx, snap.MessageID)
	if err == model.ErrMessageNotFound {
		return model.ErrStaleMissing
	}
	if err != nil {
		return err
	}
	if cur.IsDeleted() {
		return model.ErrStaleDeleted
	}
	if cur.Version != snap.Version {
		return model.ErrStaleVersion
	}
	if cur.ContentRaw != snap.ContentRaw {
		return model.ErrStaleContent
	}
	return nil
}

// commitLinkifier inserts one enrichment row per item and appends a single
// aggregated message.enriched event naming all enrichment ids. ok is false
// when the staleness guard rejected the commit (silent discard, no row, no
// event) or the transaction failed. Empty output is a legal no-op success
// and returns a nil id with ok true.
func (p *Pipeline) commitLinkifier(ctx context.Context, pluginName string, snap snapshot, items []LinkifierItem) (*int64, bool) {
	if len(items) == 0 {
		return nil, true // empty output is a legal success: no rows, no events
	}

	var eventID *int64
	err := p.ops.WithTx(ctx, func(tx *sql.Tx) error {
		if err := checkStale(ctx, tx, snap); err != nil {
			log.Printf("plugin: %s discarded, message %s: %v", pluginName, snap.MessageID, err)
			return nil // staleness rejection: handled as a non-error no-commit below
		}
		ids := make([]string, 0, len(items))
		now := time.Now().UTC()
		for _, it := range items {
			e := model.Enrichment{
				ID: model.NewID("enr"), MessageID: snap.MessageID, Kind: it.Kind,
				SpanStart: it.Span.Start, SpanEnd: it.Span.End, DataJSON: string(it.Data), CreatedAt: now,
			}
			if err := mutate.InsertEnrichmentTx(ctx, tx, e); err != nil {
				return err
			}
			ids = append(ids, e.ID)
		}
		id, err := eventlog.Append(ctx, tx, model.NewEvent{
			Name: model.EventMessageEnriched, ChannelID: snap.ChannelID, TopicID: snap.TopicID,
			EntityType: "message", EntityID: snap.MessageID,
			Data: map[string]any{"message_id": snap.MessageID, "plugin": pluginName, "enrichment_ids": ids},
		})
		if err != nil {
			return err
		}
		eventID = &id
		return nil
	})
	if err != nil {
		return nil, false
	}
	if eventID == nil {
		return nil, false // ran inside tx but checkStale rejected: no commit happened
	}
	return eventID, true
}

// commitExtractor upserts one attachment per item, enforcing the size limit
// and the dedupe_key fallback, and appends topic.attachment_added only for
// rows that did not already exist.
func (p *Pipeline) commitExtractor(ctx context.Context, snap snapshot, items []ExtractorItem) ([]int64, bool) {
	if len(items) == 0 {
		return nil, true
	}

	var eventIDs []int64
	committed := false
	err := p.ops.WithTx(ctx, func(tx *sql.Tx) error {
		if err := checkStale(ctx, tx, snap); err != nil {
			log.Printf("plugin: extractor discarded, message %s: %v", snap.MessageID, err)
			return nil
		}
		committed = true
		for _, it := range items {
			valueJSON := string(it.ValueJSON)
			if len(valueJSON) > maxAttachmentValueBytes {
				continue // oversized item is dropped rather than failing the whole plugin
			}
			dedupeKey := it.DedupeKey
			if dedupeKey == "" {
				// Fallback per spec's Open Question: JSON.stringify(value_json)
				// as-received, no key-order canonicalization. Two
				// semantically-equal but differently-ordered JSON objects
				// fall back to different dedupe keys.
				dedupeKey = valueJSON
			}
			att, inserted, err := mutate.UpsertAttachmentTx(ctx, tx, snap.TopicID, it.Kind, it.Key, valueJSON, dedupeKey, snap.MessageID)
			if err != nil {
				return err
			}
			if !inserted {
				continue
			}
			id, err := eventlog.Append(ctx, tx, model.NewEvent{
				Name: model.EventTopicAttachmentAdded, ChannelID: snap.ChannelID, TopicID: snap.TopicID,
				EntityType: "attachment", EntityID: att.ID,
				Data: map[string]any{"id": att.ID, "topic_id": snap.TopicID, "kind": it.Kind},
			})
			if err != nil {
				return err
			}
			eventIDs = append(eventIDs, id)
		}
		return nil
	})
	if err != nil {
		return nil, false
	}
	return eventIDs, committed
}
