// Package model defines the core entities of the workspace hub: channels,
// topics, messages, attachments, enrichments and the append-only event log.
package model

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns an opaque, sortable, prefixed id such as "msg_01HXYZ...".
// Ids are ULIDs so that default ordering (ascending id) matches creation
// order, which mutate.MoveTopic relies on for the "ascending id" tie-break.
// Monotonic entropy keeps ids created within the same millisecond in
// creation order too.
func NewID(prefix string) string {
	idMu.Lock()
	id := ulid.MustNew(ulid.Now(), idEntropy)
	idMu.Unlock()
	return prefix + "_" + id.String()
}

// Channel is a named container for topics.
type Channel struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Topic is a container for messages within a channel.
type Topic struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeletedSentinel replaces content_raw when a message is tombstoned.
const DeletedSentinel = "[deleted]"

// Message is owned by its topic. Hard deletion is forbidden; delete is a
// tombstone (deleted_at/deleted_by set, content_raw overwritten).
type Message struct {
	ID          string     `json:"id"`
	TopicID     string     `json:"topic_id"`
	ChannelID   string     `json:"channel_id"`
	Sender      string     `json:"sender"`
	ContentRaw  string     `json:"content_raw"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	EditedAt    *time.Time `json:"edited_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	DeletedBy   *string    `json:"deleted_by,omitempty"`
}

// IsDeleted reports whether the message has been tombstoned.
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Attachment is a structured artifact attached to a topic, uniquely
// identified by (topic_id, kind, key, dedupe_key).
type Attachment struct {
	ID              string    `json:"id"`
	TopicID         string    `json:"topic_id"`
	Kind            string    `json:"kind"`
	Key             string    `json:"key,omitempty"`
	ValueJSON       string    `json:"value_json"`
	DedupeKey       string    `json:"dedupe_key"`
	SourceMessageID string    `json:"source_message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Enrichment is a span annotation attached to a message by a linkifier
// plugin. It is owned by the message and lives as long as the topic does
// (messages are never hard-deleted).
type Enrichment struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	Kind      string    `json:"kind"`
	SpanStart int       `json:"span_start"`
	SpanEnd   int       `json:"span_end"`
	DataJSON  string    `json:"data_json"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is an immutable, append-only, strictly-ordered record of a state
// change. event_id is the sole cursor for replay and fanout.
type Event struct {
	EventID         int64     `json:"event_id"`
	Ts              time.Time `json:"ts"`
	Name            string    `json:"name"`
	ScopeChannelID  string    `json:"scope_channel_id,omitempty"`
	ScopeTopicID    string    `json:"scope_topic_id,omitempty"`
	ScopeTopicID2   string    `json:"scope_topic_id2,omitempty"`
	EntityType      string    `json:"entity_type"`
	EntityID        string    `json:"entity_id"`
	DataJSON        string    `json:"data_json"`
}

// NewEvent is the caller-supplied shape passed to eventlog.Append before an
// event_id and ts are assigned.
type NewEvent struct {
	Name       string
	ChannelID  string // scope_channel_id
	TopicID    string // scope_topic_id
	TopicID2   string // scope_topic_id2
	EntityType string
	EntityID   string
	Data       map[string]any
}

// WorkspaceMeta is the one-row table identifying a database.
type WorkspaceMeta struct {
	SchemaVersion int       `json:"schema_version"`
	DBID          string    `json:"db_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Event names used across the mutation ops, WS fanout, and plugin pipeline.
const (
	EventChannelCreated     = "channel.created"
	EventTopicCreated        = "topic.created"
	EventMessageCreated      = "message.created"
	EventMessageEdited       = "message.edited"
	EventMessageDeleted      = "message.deleted"
	EventMessageMovedTopic   = "message.moved_topic"
	EventMessageEnriched     = "message.enriched"
	EventTopicAttachmentAdded = "topic.attachment_added"
	EventTopicUpdated        = "topic.updated"
)

// RetopicMode selects which rows a move_topic operation affects.
type RetopicMode string

const (
	RetopicOne   RetopicMode = "one"
	RetopicLater RetopicMode = "later"
	RetopicAll   RetopicMode = "all"
)

// Valid reports whether the mode is one of the three allowed values.
func (m RetopicMode) Valid() bool {
	switch m {
	case RetopicOne, RetopicLater, RetopicAll:
		return true
	}
	return false
}

func (m RetopicMode) String() string { return string(m) }
