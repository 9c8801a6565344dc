// Package query implements the read-only projections behind the HTTP
// surface's GET routes: channel/topic listing and lookup, message listing
// with cursor pagination, and attachment listing. The store itself exposes
// only transactional primitives (spec §4.1); these are the read side that
// sits on top, grounded on the same single-connection *sql.DB the mutation
// ops use.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/leonletto/agentlip/internal/model"
)

// ListChannels returns every channel ordered by creation time.
func ListChannels(ctx context.Context, db *sql.DB) ([]model.Channel, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, description, created_at FROM channels ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []model.Channel
	for rows.Next() {
		var c model.Channel
		var createdAt string
		var desc sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &desc, &createdAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		c.Description = desc.String
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChannel returns a single channel by id, or model.ErrChannelNotFound.
func GetChannel(ctx context.Context, db *sql.DB, channelID string) (model.Channel, error) {
	var c model.Channel
	var createdAt string
	var desc sql.NullString
	err := db.QueryRowContext(ctx, `SELECT id, name, description, created_at FROM channels WHERE id = ?`, channelID).
		Scan(&c.ID, &c.Name, &desc, &createdAt)
	if err == sql.ErrNoRows {
		return model.Channel{}, model.ErrChannelNotFound
	}
	if err != nil {
		return model.Channel{}, fmt.Errorf("get channel: %w", err)
	}
	c.Description = desc.String
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return c, nil
}

// ListTopicsByChannel returns every topic in channelID, ordered by
// creation time. Returns model.ErrChannelNotFound if the channel is absent.
func ListTopicsByChannel(ctx context.Context, db *sql.DB, channelID string) ([]model.Topic, error) {
	if _, err := GetChannel(ctx, db, channelID); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, channel_id, title, created_at, updated_at FROM topics WHERE channel_id = ? ORDER BY created_at ASC, id ASC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var out []model.Topic
	for rows.Next() {
		var t model.Topic
		var createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.ChannelID, &t.Title, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTopic returns a single topic by id, or model.ErrTopicNotFound.
func GetTopic(ctx context.Context, db *sql.DB, topicID string) (model.Topic, error) {
	var t model.Topic
	var createdAt, updatedAt string
	err := db.QueryRowContext(ctx, `SELECT id, channel_id, title, created_at, updated_at FROM topics WHERE id = ?`, topicID).
		Scan(&t.ID, &t.ChannelID, &t.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return model.Topic{}, model.ErrTopicNotFound
	}
	if err != nil {
		return model.Topic{}, fmt.Errorf("get topic: %w", err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return t, nil
}

// MessageFilter selects which messages ListMessages returns.
type MessageFilter struct {
	ChannelID string
	TopicID   string
	Limit     int
	BeforeID  string // exclusive upper bound, by id (ULIDs sort lexically with creation order)
	AfterID   string // exclusive lower bound, by id
}

// ListMessages returns messages matching f, ordered by id ascending,
// bounded by f.Limit (default/max 1000, matching the replay batch size).
func ListMessages(ctx context.Context, db *sql.DB, f MessageFilter) ([]model.Message, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	query := `SELECT id, topic_id, channel_id, sender, content_raw, version, created_at, edited_at, deleted_at, deleted_by
	          FROM messages WHERE 1=1`
	var args []any
	if f.ChannelID != "" {
		query += ` AND channel_id = ?`
		args = append(args, f.ChannelID)
	}
	if f.TopicID != "" {
		query += ` AND topic_id = ?`
		args = append(args, f.TopicID)
	}
	if f.BeforeID != "" {
		query += ` AND id < ?`
		args = append(args, f.BeforeID)
	}
	if f.AfterID != "" {
		query += ` AND id > ?`
		args = append(args, f.AfterID)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var (
			m                          model.Message
			createdAt                  string
			editedAt, deletedAt, delBy sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.TopicID, &m.ChannelID, &m.Sender, &m.ContentRaw, &m.Version, &createdAt, &editedAt, &deletedAt, &delBy); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if editedAt.Valid {
			ts, _ := time.Parse(time.RFC3339Nano, editedAt.String)
			m.EditedAt = &ts
		}
		if deletedAt.Valid {
			ts, _ := time.Parse(time.RFC3339Nano, deletedAt.String)
			m.DeletedAt = &ts
			by := delBy.String
			m.DeletedBy = &by
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListAttachments returns every attachment for topicID, optionally
// filtered by kind.
func ListAttachments(ctx context.Context, db *sql.DB, topicID, kind string) ([]model.Attachment, error) {
	if _, err := GetTopic(ctx, db, topicID); err != nil {
		return nil, err
	}
	query := `SELECT id, topic_id, kind, key, value_json, dedupe_key, source_message_id, created_at FROM attachments WHERE topic_id = ?`
	args := []any{topicID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []model.Attachment
	for rows.Next() {
		var a model.Attachment
		var key, sourceMsg sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.TopicID, &a.Kind, &key, &a.ValueJSON, &a.DedupeKey, &sourceMsg, &createdAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		a.Key = key.String
		a.SourceMessageID = sourceMsg.String
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
