// Package httpapi implements the versioned HTTP surface: route table, auth
// gate, size limits, rate limiting, and error shaping (spec §4.3, §6).
// Routing uses the standard library's method-aware net/http.ServeMux
// patterns (Go 1.22+) instead of a router dependency, matching the
// distillation's framing of routing as "a static table of (method, regex,
// handler)" — ServeMux's patterns are that table.
package httpapi

import (
	"context"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/leonletto/agentlip/internal/mutate"
	"github.com/leonletto/agentlip/internal/plugin"
	"github.com/leonletto/agentlip/internal/ratelimit"
	"github.com/leonletto/agentlip/internal/store"
)

// Server holds everything a request handler needs: the mutation ops, the
// store's read connection, the plugin pipeline to trigger after writes,
// and the cross-cutting knobs (auth, limits, rate, shutdown flag).
type Server struct {
	ops      *mutate.Ops
	st       *store.Store
	pipeline *plugin.Pipeline
	limiter  *ratelimit.Limiter

	authToken               string
	maxMessageContentBytes  int
	maxAttachmentValueBytes int
	maxReplayBatch          int

	instanceID      string
	dbID            string
	protocolVersion string
	schemaVersion   int
	startedAt       time.Time
	pid             int

	shuttingDown atomic.Bool

	// PublishEvent, when set, notifies WS fanout of a newly-appended event.
	// Left nil in tests that don't exercise fanout.
	PublishEvent func(eventID int64)
}

// Options bundles Server's construction parameters.
type Options struct {
	Ops                     *mutate.Ops
	Store                   *store.Store
	Pipeline                *plugin.Pipeline
	Limiter                 *ratelimit.Limiter
	AuthToken               string
	MaxMessageContentBytes  int
	MaxAttachmentValueBytes int
	MaxReplayBatch          int
	InstanceID              string
	DBID                    string
	ProtocolVersion         string
	SchemaVersion           int
}

// NewServer builds a Server from opts.
func NewServer(opts Options) *Server {
	return &Server{
		ops: opts.Ops, st: opts.Store, pipeline: opts.Pipeline, limiter: opts.Limiter,
		authToken:               opts.AuthToken,
		maxMessageContentBytes:  opts.MaxMessageContentBytes,
		maxAttachmentValueBytes: opts.MaxAttachmentValueBytes,
		maxReplayBatch:          opts.MaxReplayBatch,
		instanceID:              opts.InstanceID,
		dbID:                    opts.DBID,
		protocolVersion:         opts.ProtocolVersion,
		schemaVersion:           opts.SchemaVersion,
		startedAt:               time.Now(),
		pid:                     os.Getpid(),
	}
}

// BeginShutdown flips the shutdown flag; subsequent non-health requests
// get 503 SHUTTING_DOWN (spec §4.6).
func (s *Server) BeginShutdown() { s.shuttingDown.Store(true) }

// Handler builds the route table mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("GET /api/v1/channels", s.wrap(false, s.handleListChannels))
	mux.Handle("POST /api/v1/channels", s.wrap(true, s.handleCreateChannel))
	mux.Handle("GET /api/v1/channels/{channel_id}", s.wrap(false, s.handleGetChannel))
	mux.Handle("GET /api/v1/channels/{channel_id}/topics", s.wrap(false, s.handleListTopics))

	mux.Handle("POST /api/v1/topics", s.wrap(true, s.handleCreateTopic))
	mux.Handle("GET /api/v1/topics/{topic_id}", s.wrap(false, s.handleGetTopic))
	mux.Handle("PATCH /api/v1/topics/{topic_id}", s.wrap(true, s.handlePatchTopic))

	mux.Handle("GET /api/v1/messages", s.wrap(false, s.handleListMessages))
	mux.Handle("POST /api/v1/messages", s.wrap(true, s.handleCreateMessage))
	mux.Handle("PATCH /api/v1/messages/{message_id}", s.wrap(true, s.handlePatchMessage))

	mux.Handle("GET /api/v1/topics/{topic_id}/attachments", s.wrap(false, s.handleListAttachments))
	mux.Handle("POST /api/v1/topics/{topic_id}/attachments", s.wrap(true, s.handleCreateAttachment))

	mux.Handle("GET /api/v1/events", s.wrap(false, s.handleListEvents))

	return mux
}

// wrap applies, in order: shutdown check (non-health routes only, already
// excluded from /health by registration), rate limiting, and — for
// mutating routes — the bearer-token gate. Matches the per-request pipeline
// spec §4.3 describes.
func (s *Server) wrap(mutating bool, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.shuttingDown.Load() {
			writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "server shutting down", nil)
			return
		}
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limited", nil)
			return
		}
		if mutating {
			if !s.checkAuth(r) {
				tok := r.Header.Get("Authorization")
				if tok == "" {
					writeError(w, http.StatusUnauthorized, "MISSING_AUTH", "missing authorization header", nil)
				} else {
					writeError(w, http.StatusUnauthorized, "INVALID_AUTH", "invalid bearer token", nil)
				}
				return
			}
		}
		h(w, r)
	})
}

func (s *Server) checkAuth(r *http.Request) bool {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return false
	}
	return tokensEqual(h[len(prefix):], s.authToken)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"instance_id":      s.instanceID,
		"db_id":            s.dbID,
		"schema_version":   s.schemaVersion,
		"protocol_version": s.protocolVersion,
		"pid":              s.pid,
		"uptime_seconds":   int(time.Since(s.startedAt).Seconds()),
	})
}

// runPluginsAsync fires the plugin pipeline for messageID without blocking
// the HTTP response, matching the control flow in spec §2 ("plugin
// pipeline (async) reads message snapshot...").
func (s *Server) runPluginsAsync(messageID string) {
	if s.pipeline == nil {
		return
	}
	go func() {
		ids := s.pipeline.RunForMessage(context.Background(), messageID)
		if s.PublishEvent != nil {
			for _, id := range ids {
				s.PublishEvent(id)
			}
		}
	}()
}

func (s *Server) notify(eventID int64) {
	if s.PublishEvent != nil {
		s.PublishEvent(eventID)
	}
}
