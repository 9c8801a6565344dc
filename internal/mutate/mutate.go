// Package mutate implements the mutation operations: create channel/topic/
// message/attachment, edit, tombstone delete, and retopic. Every operation
// runs in a single transaction that changes row state and appends the
// corresponding event(s), so a write is observed by subscribers if and only
// if it committed.
package mutate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/leonletto/agentlip/internal/eventlog"
	"github.com/leonletto/agentlip/internal/model"
	"github.com/leonletto/agentlip/internal/store"
)

// Ops bundles the store with the mutation operations that run against it.
type Ops struct {
	st *store.Store
}

// New returns an Ops bound to st.
func New(st *store.Store) *Ops {
	return &Ops{st: st}
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// Result pairs a created/affected entity with the event_id its mutation
// produced, or nil when the op was a no-op (idempotent replay, already
// tombstoned).
type Result struct {
	EventID *int64
}

// CreateChannel inserts a channel and appends channel.created.
func (o *Ops) CreateChannel(ctx context.Context, name, description string) (model.Channel, int64, error) {
	if name == "" || len(name) > 100 {
		return model.Channel{}, 0, fmt.Errorf("%w: channel name must be 1..100 chars", model.ErrInvalidInput)
	}
	ch := model.Channel{ID: model.NewID("ch"), Name: name, Description: description, CreatedAt: time.Now().UTC()}
	var eventID int64
	err := o.st.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO channels (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
			ch.ID, ch.Name, ch.Description, now())
		if err != nil {
			return mapConstraintErr(err)
		}
		eventID, err = eventlog.Append(ctx, tx, model.NewEvent{
			Name: model.EventChannelCreated, ChannelID: ch.ID, EntityType: "channel", EntityID: ch.ID,
			Data: map[string]any{"id": ch.ID, "name": ch.Name},
		})
		return err
	})
	if err != nil {
		return model.Channel{}, 0, err
	}
	return ch, eventID, nil
}

// CreateTopic inserts a topic and appends topic.created.
func (o *Ops) CreateTopic(ctx context.Context, channelID, title string) (model.Topic, int64, error) {
	if title == "" || len(title) > 200 {
		return model.Topic{}, 0, fmt.Errorf("%w: topic title must be 1..200 chars", model.ErrInvalidInput)
	}
	tp := model.Topic{ID: model.NewID("tp"), ChannelID: channelID, Title: title, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	var eventID int64
	err := o.st.WithTx(ctx, func(tx *sql.Tx) error {
		if !channelExists(ctx, tx, channelID) {
			return model.ErrChannelNotFound
		}
		ts := now()
		_, err := tx.ExecContext(ctx,
			`INSERT INTO topics (id, channel_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			tp.ID, tp.ChannelID, tp.Title, ts, ts)
		if err != nil {
			return mapConstraintErr(err)
		}
		eventID, err = eventlog.Append(ctx, tx, model.NewEvent{
			Name: model.EventTopicCreated, ChannelID: channelID, TopicID: tp.ID, EntityType: "topic", EntityID: tp.ID,
			Data: map[string]any{"id": tp.ID, "channel_id": channelID, "title": tp.Title},
		})
		return err
	})
	if err != nil {
		return model.Topic{}, 0, err
	}
	return tp, eventID, nil
}

// RenameTopic updates a topic's title and appends topic.updated. This
// backs the route table's PATCH /topics/:topic_id, whose body spec.md's
// distillation leaves unspecified beyond the status codes; a title rename
// is the one topic-level field left mutable by the data model (decision
// recorded in DESIGN.md).
func (o *Ops) RenameTopic(ctx context.Context, topicID, newTitle string) (model.Topic, int64, error) {
	if newTitle == "" || len(newTitle) > 200 {
		return model.Topic{}, 0, fmt.Errorf("%w: topic title must be 1..200 chars", model.ErrInvalidInput)
	}
	var tp model.Topic
	var eventID int64
	err := o.st.WithTx(ctx, func(tx *sql.Tx) error {
		channelID, err := topicChannelID(ctx, tx, topicID)
		if err != nil {
			return err
		}
		ts := now()
		if _, err := tx.ExecContext(ctx, `UPDATE topics SET title = ?, updated_at = ? WHERE id = ?`, newTitle, ts, topicID); err != nil {
			return mapConstraintErr(err)
		}
		tp = model.Topic{ID: topicID, ChannelID: channelID, Title: newTitle}
		eventID, err = eventlog.Append(ctx, tx, model.NewEvent{
			Name: model.EventTopicUpdated, ChannelID: channelID, TopicID: topicID, EntityType: "topic", EntityID: topicID,
			Data: map[string]any{"id": topicID, "title": newTitle},
		})
		return err
	})
	if err != nil {
		return model.Topic{}, 0, err
	}
	return tp, eventID, nil
}

// CreateMessage inserts a message, bumps topic.updated_at, and appends
// message.created.
func (o *Ops) CreateMessage(ctx context.Context, topicID, sender, contentRaw string, maxContentBytes int) (model.Message, int64, error) {
	if sender == "" {
		return model.Message{}, 0, fmt.Errorf("%w: sender must be non-empty", model.ErrInvalidInput)
	}
	if maxContentBytes > 0 && len(contentRaw) > maxContentBytes {
		return model.Message{}, 0, fmt.Errorf("%w: content_raw exceeds %d bytes", model.ErrPayloadTooLarge, maxContentBytes)
	}
	msg := model.Message{
		ID: model.NewID("msg"), TopicID: topicID, Sender: sender, ContentRaw: contentRaw,
		Version: 1, CreatedAt: time.Now().UTC(),
	}
	var eventID int64
	err := o.st.WithTx(ctx, func(tx *sql.Tx) error {
		channelID, err := topicChannelID(ctx, tx, topicID)
		if err != nil {
			return err
		}
		msg.ChannelID = channelID
		ts := now()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, topic_id, channel_id, sender, content_raw, version, created_at) VALUES (?, ?, ?, ?, ?, 1, ?)`,
			msg.ID, msg.TopicID, msg.ChannelID, msg.Sender, msg.ContentRaw, ts)
		if err != nil {
			return mapConstraintErr(err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE topics SET updated_at = ? WHERE id = ?`, ts, topicID); err != nil {
			return fmt.Errorf("bump topic updated_at: %w", err)
		}
		eventID, err = eventlog.Append(ctx, tx, model.NewEvent{
			Name: model.EventMessageCreated, ChannelID: msg.ChannelID, TopicID: msg.TopicID, EntityType: "message", EntityID: msg.ID,
			Data: map[string]any{"id": msg.ID, "topic_id": msg.TopicID, "sender": msg.Sender, "version": msg.Version},
		})
		return err
	})
	if err != nil {
		return model.Message{}, 0, err
	}
	return msg, eventID, nil
}

// EditMessage implements spec §4.2 "Edit message".
func (o *Ops) EditMessage(ctx context.Context, messageID, newContent string, expectedVersion *int, maxContentBytes int) (model.Message, int64, error) {
	if maxContentBytes > 0 && len(newContent) > maxContentBytes {
		return model.Message{}, 0, fmt.Errorf("%w: content_raw exceeds %d bytes", model.ErrPayloadTooLarge, maxContentBytes)
	}
	var out model.Message
	var eventID int64
	err := o.st.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := loadMessageForUpdate(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if cur.IsDeleted() {
			return model.ErrMessageDeleted
		}
		if expectedVersion != nil && *expectedVersion != cur.Version {
			return &model.VersionConflictError{Current: cur.Version}
		}
		ts := now()
		newVersion := cur.Version + 1
		_, err = tx.ExecContext(ctx,
			`UPDATE messages SET content_raw = ?, version = ?, edited_at = ? WHERE id = ?`,
			newContent, newVersion, ts, messageID)
		if err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		eventID, err = eventlog.Append(ctx, tx, model.NewEvent{
			Name: model.EventMessageEdited, ChannelID: cur.ChannelID, TopicID: cur.TopicID, EntityType: "message", EntityID: messageID,
			Data: map[string]any{"id": messageID, "version": newVersion},
		})
		if err != nil {
			return err
		}
		cur.ContentRaw = newContent
		cur.Version = newVersion
		out = cur
		return nil
	})
	if err != nil {
		return model.Message{}, 0, err
	}
	return out, eventID, nil
}

// DeleteMessage implements spec §4.2 "Tombstone delete". Already-tombstoned
// messages are a no-op returning a nil event id, not an error.
func (o *Ops) DeleteMessage(ctx context.Context, messageID, actor string, expectedVersion *int) (*int64, error) {
	var eventID *int64
	err := o.st.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := loadMessageForUpdate(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if cur.IsDeleted() {
			return nil // idempotent no-op
		}
		if expectedVersion != nil && *expectedVersion != cur.Version {
			return &model.VersionConflictError{Current: cur.Version}
		}
		ts := now()
		newVersion := cur.Version + 1
		_, err = tx.ExecContext(ctx,
			`UPDATE messages SET content_raw = ?, version = ?, deleted_at = ?, deleted_by = ? WHERE id = ?`,
			model.DeletedSentinel, newVersion, ts, actor, messageID)
		if err != nil {
			return fmt.Errorf("tombstone message: %w", err)
		}
		id, err := eventlog.Append(ctx, tx, model.NewEvent{
			Name: model.EventMessageDeleted, ChannelID: cur.ChannelID, TopicID: cur.TopicID, EntityType: "message", EntityID: messageID,
			Data: map[string]any{"id": messageID, "deleted_by": actor, "version": newVersion},
		})
		if err != nil {
			return err
		}
		eventID = &id
		return nil
	})
	return eventID, err
}

// MoveTopic implements spec §4.2 "Retopic (move_topic)". Rows are processed
// in ascending id order so event ids come out contiguous and ascending for
// the batch (tie-break rule).
func (o *Ops) MoveTopic(ctx context.Context, messageID, toTopicID string, mode model.RetopicMode, expectedVersion *int) ([]int64, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: mode must be one of one|later|all", model.ErrInvalidInput)
	}
	var eventIDs []int64
	err := o.st.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := loadMessageForUpdate(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if cur.IsDeleted() {
			return model.ErrMessageDeleted
		}
		if expectedVersion != nil && *expectedVersion != cur.Version {
			return &model.VersionConflictError{Current: cur.Version}
		}
		destChannelID, err := topicChannelID(ctx, tx, toTopicID)
		if err != nil {
			if err == model.ErrTopicNotFound {
				return model.ErrTopicNotFound
			}
			return err
		}
		if destChannelID != cur.ChannelID {
			return model.ErrCrossChannelMove
		}

		ids, err := selectMoveSet(ctx, tx, cur, mode)
		if err != nil {
			return err
		}

		ts := now()
		for _, id := range ids {
			row, err := loadMessageForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}
			if row.IsDeleted() {
				continue // tombstoned messages are not moved
			}
			newVersion := row.Version + 1
			if _, err := tx.ExecContext(ctx,
				`UPDATE messages SET topic_id = ?, version = ? WHERE id = ?`,
				toTopicID, newVersion, id); err != nil {
				return fmt.Errorf("move message %s: %w", id, err)
			}
			eid, err := eventlog.Append(ctx, tx, model.NewEvent{
				Name: model.EventMessageMovedTopic, TopicID: toTopicID, TopicID2: row.TopicID,
				EntityType: "message", EntityID: id,
				Data: map[string]any{"id": id, "from_topic_id": row.TopicID, "to_topic_id": toTopicID, "version": newVersion},
			})
			if err != nil {
				return err
			}
			eventIDs = append(eventIDs, eid)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE topics SET updated_at = ? WHERE id = ?`, ts, toTopicID); err != nil {
			return fmt.Errorf("bump destination topic updated_at: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return eventIDs, nil
}

// selectMoveSet returns message ids (ascending) affected by mode, relative
// to cur's position in its origin topic.
func selectMoveSet(ctx context.Context, tx *sql.Tx, cur model.Message, mode model.RetopicMode) ([]string, error) {
	switch mode {
	case model.RetopicOne:
		return []string{cur.ID}, nil
	case model.RetopicLater:
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM messages WHERE topic_id = ? AND id >= ? ORDER BY id ASC`, cur.TopicID, cur.ID)
		if err != nil {
			return nil, fmt.Errorf("select later messages: %w", err)
		}
		defer rows.Close()
		return scanIDs(rows)
	case model.RetopicAll:
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM messages WHERE topic_id = ? ORDER BY id ASC`, cur.TopicID)
		if err != nil {
			return nil, fmt.Errorf("select all messages: %w", err)
		}
		defer rows.Close()
		return scanIDs(rows)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", model.ErrInvalidInput, mode)
	}
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateAttachment implements the idempotent upsert of spec §4.2: a
// duplicate (topic_id, kind, key, dedupe_key) returns the existing row with
// a nil event id and performs no write.
func (o *Ops) CreateAttachment(ctx context.Context, topicID, kind, key, valueJSON, dedupeKey, sourceMessageID string, maxValueBytes int) (model.Attachment, *int64, error) {
	if kind == "" {
		return model.Attachment{}, nil, fmt.Errorf("%w: kind must be non-empty", model.ErrInvalidInput)
	}
	if dedupeKey == "" {
		return model.Attachment{}, nil, fmt.Errorf("%w: dedupe_key must be non-empty", model.ErrInvalidInput)
	}
	if maxValueBytes > 0 && len(valueJSON) > maxValueBytes {
		return model.Attachment{}, nil, fmt.Errorf("%w: value_json exceeds %d bytes", model.ErrPayloadTooLarge, maxValueBytes)
	}

	var att model.Attachment
	var eventID *int64
	err := o.st.WithTx(ctx, func(tx *sql.Tx) error {
		if !topicExists(ctx, tx, topicID) {
			return model.ErrTopicNotFound
		}
		existing, ok, err := lookupAttachment(ctx, tx, topicID, kind, key, dedupeKey)
		if err != nil {
			return err
		}
		if ok {
			att = existing
			return nil
		}
		att = model.Attachment{
			ID: model.NewID("att"), TopicID: topicID, Kind: kind, Key: key,
			ValueJSON: valueJSON, DedupeKey: dedupeKey, SourceMessageID: sourceMessageID,
			CreatedAt: time.Now().UTC(),
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO attachments (id, topic_id, kind, key, value_json, dedupe_key, source_message_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)`,
			att.ID, att.TopicID, att.Kind, att.Key, att.ValueJSON, att.DedupeKey, att.SourceMessageID, now())
		if err != nil {
			// A racing duplicate insert hits the unique index; treat it
			// the same as a pre-existing row rather than surfacing a
			// constraint error.
			existing, ok, lookupErr := lookupAttachment(ctx, tx, topicID, kind, key, dedupeKey)
			if lookupErr == nil && ok {
				att = existing
				return nil
			}
			return mapConstraintErr(err)
		}
		channelID, err := topicChannelID(ctx, tx, topicID)
		if err != nil {
			return err
		}
		id, err := eventlog.Append(ctx, tx, model.NewEvent{
			Name: model.EventTopicAttachmentAdded, ChannelID: channelID, TopicID: topicID, EntityType: "attachment", EntityID: att.ID,
			Data: map[string]any{"id": att.ID, "topic_id": topicID, "kind": kind},
		})
		if err != nil {
			return err
		}
		eventID = &id
		return nil
	})
	if err != nil {
		return model.Attachment{}, nil, err
	}
	return att, eventID, nil
}

// LoadMessage reads a message by id outside any write transaction. Used by
// the plugin pipeline to capture the pre-execution snapshot.
func (o *Ops) LoadMessage(ctx context.Context, messageID string) (model.Message, error) {
	var m model.Message
	err := o.st.WithTx(ctx, func(tx *sql.Tx) error {
		loaded, err := loadMessageForUpdate(ctx, tx, messageID)
		if err != nil {
			return err
		}
		m = loaded
		return nil
	})
	return m, err
}

// LoadMessageTx is the transaction-scoped form of LoadMessage, exported for
// the plugin pipeline's staleness-guarded commit, which must re-read the
// message inside the same transaction that then writes derived rows.
func LoadMessageTx(ctx context.Context, tx *sql.Tx, messageID string) (model.Message, error) {
	return loadMessageForUpdate(ctx, tx, messageID)
}

// InsertEnrichmentTx inserts one enrichment row. Called by the plugin
// pipeline inside its staleness-guarded transaction, after the re-read
// confirms the message snapshot is still current.
func InsertEnrichmentTx(ctx context.Context, tx *sql.Tx, e model.Enrichment) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO enrichments (id, message_id, kind, span_start, span_end, data_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MessageID, e.Kind, e.SpanStart, e.SpanEnd, e.DataJSON, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert enrichment: %w", err)
	}
	return nil
}

// UpsertAttachmentTx performs the same idempotent upsert as CreateAttachment
// but inside a transaction the caller already holds, reporting whether a
// new row was inserted (the plugin pipeline only appends
// topic.attachment_added for newly-inserted rows).
func UpsertAttachmentTx(ctx context.Context, tx *sql.Tx, topicID, kind, key, valueJSON, dedupeKey, sourceMessageID string) (model.Attachment, bool, error) {
	existing, ok, err := lookupAttachment(ctx, tx, topicID, kind, key, dedupeKey)
	if err != nil {
		return model.Attachment{}, false, err
	}
	if ok {
		return existing, false, nil
	}
	att := model.Attachment{
		ID: model.NewID("att"), TopicID: topicID, Kind: kind, Key: key,
		ValueJSON: valueJSON, DedupeKey: dedupeKey, SourceMessageID: sourceMessageID,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO attachments (id, topic_id, kind, key, value_json, dedupe_key, source_message_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)`,
		att.ID, att.TopicID, att.Kind, att.Key, att.ValueJSON, att.DedupeKey, att.SourceMessageID, now())
	if err != nil {
		existing, ok, lookupErr := lookupAttachment(ctx, tx, topicID, kind, key, dedupeKey)
		if lookupErr == nil && ok {
			return existing, false, nil
		}
		return model.Attachment{}, false, mapConstraintErr(err)
	}
	return att, true, nil
}

// TopicChannelIDTx exposes topicChannelID for the plugin pipeline, which
// needs the owning channel id to scope the events it appends.
func TopicChannelIDTx(ctx context.Context, tx *sql.Tx, topicID string) (string, error) {
	return topicChannelID(ctx, tx, topicID)
}

// WithTx exposes the store's transaction helper so the plugin pipeline can
// run its staleness-guarded commit under the same discipline (panic-safe
// rollback, commit on success) as every other mutation in this package.
func (o *Ops) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return o.st.WithTx(ctx, fn)
}

func lookupAttachment(ctx context.Context, tx *sql.Tx, topicID, kind, key, dedupeKey string) (model.Attachment, bool, error) {
	var a model.Attachment
	var createdAt string
	var sourceMsg sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT id, topic_id, kind, key, value_json, dedupe_key, source_message_id, created_at
		 FROM attachments WHERE topic_id = ? AND kind = ? AND key = ? AND dedupe_key = ?`,
		topicID, kind, key, dedupeKey,
	).Scan(&a.ID, &a.TopicID, &a.Kind, &a.Key, &a.ValueJSON, &a.DedupeKey, &sourceMsg, &createdAt)
	if err == sql.ErrNoRows {
		return model.Attachment{}, false, nil
	}
	if err != nil {
		return model.Attachment{}, false, fmt.Errorf("lookup attachment: %w", err)
	}
	a.SourceMessageID = sourceMsg.String
	return a, true, nil
}

func channelExists(ctx context.Context, tx *sql.Tx, channelID string) bool {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM channels WHERE id = ?`, channelID).Scan(&id)
	return err == nil
}

func topicExists(ctx context.Context, tx *sql.Tx, topicID string) bool {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM topics WHERE id = ?`, topicID).Scan(&id)
	return err == nil
}

func topicChannelID(ctx context.Context, tx *sql.Tx, topicID string) (string, error) {
	var channelID string
	err := tx.QueryRowContext(ctx, `SELECT channel_id FROM topics WHERE id = ?`, topicID).Scan(&channelID)
	if err == sql.ErrNoRows {
		return "", model.ErrTopicNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup topic channel: %w", err)
	}
	return channelID, nil
}

func loadMessageForUpdate(ctx context.Context, tx *sql.Tx, messageID string) (model.Message, error) {
	var (
		m                           model.Message
		createdAt                   string
		editedAt, deletedAt, delBy  sql.NullString
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, topic_id, channel_id, sender, content_raw, version, created_at, edited_at, deleted_at, deleted_by
		 FROM messages WHERE id = ?`, messageID,
	).Scan(&m.ID, &m.TopicID, &m.ChannelID, &m.Sender, &m.ContentRaw, &m.Version, &createdAt, &editedAt, &deletedAt, &delBy)
	if err == sql.ErrNoRows {
		return model.Message{}, model.ErrMessageNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("load message: %w", err)
	}
	if deletedAt.Valid {
		ts, _ := time.Parse(time.RFC3339Nano, deletedAt.String)
		m.DeletedAt = &ts
		by := delBy.String
		m.DeletedBy = &by
	}
	return m, nil
}

// mapConstraintErr turns a unique-index violation into ErrInvalidInput per
// the propagation policy ("already exists"), never echoing request content.
func mapConstraintErr(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueConstraintErr(err) {
		return fmt.Errorf("%w: already exists", model.ErrInvalidInput)
	}
	return fmt.Errorf("store error: %w", err)
}
