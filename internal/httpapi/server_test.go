package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/leonletto/agentlip/internal/mutate"
	"github.com/leonletto/agentlip/internal/ratelimit"
	"github.com/leonletto/agentlip/internal/store"
)

const testToken = "test-token-0123456789"

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "db.sqlite3"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	s := NewServer(Options{
		Ops:                     mutate.New(st),
		Store:                   st,
		Limiter:                 ratelimit.New(ratelimit.Config{Enabled: false}),
		AuthToken:               testToken,
		MaxMessageContentBytes:  64 * 1024,
		MaxAttachmentValueBytes: 16 * 1024,
		MaxReplayBatch:          1000,
		InstanceID:              "inst1",
		DBID:                    "db1",
		ProtocolVersion:         "v1",
		SchemaVersion:           1,
	})
	return s, s.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsUnauthenticated(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCreateChannelRequiresAuth(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/channels", createChannelReq{Name: "general"}, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

// S1 — Edit conflict.
func TestEditConflictReturns409(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/channels", createChannelReq{Name: "general"}, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create channel status = %d", rec.Code)
	}
	var ch struct{ ID string `json:"id"` }
	_ = json.Unmarshal(rec.Body.Bytes(), &ch)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/topics", createTopicReq{ChannelID: ch.ID, Title: "t"}, true)
	var tp struct{ ID string `json:"id"` }
	_ = json.Unmarshal(rec.Body.Bytes(), &tp)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/messages", createMessageReq{TopicID: tp.ID, Sender: "a", ContentRaw: "hello"}, true)
	var msg struct {
		ID      string `json:"id"`
		Version int    `json:"version"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &msg)
	if msg.Version != 1 {
		t.Fatalf("initial version = %d, want 1", msg.Version)
	}

	v1 := 1
	rec = doJSON(t, h, http.MethodPatch, "/api/v1/messages/"+msg.ID, patchMessageReq{Op: "edit", ContentRaw: "bye", ExpectedVersion: &v1}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("first edit status = %d, want 200", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPatch, "/api/v1/messages/"+msg.ID, patchMessageReq{Op: "edit", ContentRaw: "!", ExpectedVersion: &v1}, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second edit status = %d, want 409", rec.Code)
	}
	var body errorBody
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Code != "VERSION_CONFLICT" {
		t.Fatalf("code = %q, want VERSION_CONFLICT", body.Code)
	}
}

// S2 — Attachment idempotency.
func TestAttachmentIdempotency(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/channels", createChannelReq{Name: "general"}, true)
	var ch struct{ ID string `json:"id"` }
	_ = json.Unmarshal(rec.Body.Bytes(), &ch)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/topics", createTopicReq{ChannelID: ch.ID, Title: "t"}, true)
	var tp struct{ ID string `json:"id"` }
	_ = json.Unmarshal(rec.Body.Bytes(), &tp)

	body := createAttachmentReq{Kind: "file", Key: "readme.md", ValueJSON: map[string]any{"path": "/tmp/readme.md"}, DedupeKey: "file:/tmp/readme.md"}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/topics/"+tp.ID+"/attachments", body, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first attachment status = %d, want 201", rec.Code)
	}
	var first struct {
		ID      string `json:"id"`
		EventID *int64 `json:"event_id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &first)
	if first.EventID == nil {
		t.Fatal("first attachment event_id = null, want non-null")
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/topics/"+tp.ID+"/attachments", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("dedup attachment status = %d, want 200", rec.Code)
	}
	var second struct {
		ID      string `json:"id"`
		EventID *int64 `json:"event_id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &second)
	if first.ID != second.ID {
		t.Fatalf("dedup attachment id = %q, want %q", second.ID, first.ID)
	}
	if second.EventID != nil {
		t.Fatalf("dedup attachment event_id = %v, want null", *second.EventID)
	}
}

// S6 — Cross-channel rejection.
func TestMoveTopicCrossChannelReturns400(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/channels", createChannelReq{Name: "a"}, true)
	var chA struct{ ID string `json:"id"` }
	_ = json.Unmarshal(rec.Body.Bytes(), &chA)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/channels", createChannelReq{Name: "b"}, true)
	var chB struct{ ID string `json:"id"` }
	_ = json.Unmarshal(rec.Body.Bytes(), &chB)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/topics", createTopicReq{ChannelID: chA.ID, Title: "ta"}, true)
	var tpA struct{ ID string `json:"id"` }
	_ = json.Unmarshal(rec.Body.Bytes(), &tpA)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/topics", createTopicReq{ChannelID: chB.ID, Title: "tb"}, true)
	var tpB struct{ ID string `json:"id"` }
	_ = json.Unmarshal(rec.Body.Bytes(), &tpB)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/messages", createMessageReq{TopicID: tpA.ID, Sender: "a", ContentRaw: "hi"}, true)
	var msg struct{ ID string `json:"id"` }
	_ = json.Unmarshal(rec.Body.Bytes(), &msg)

	rec = doJSON(t, h, http.MethodPatch, "/api/v1/messages/"+msg.ID, patchMessageReq{Op: "move_topic", ToTopicID: tpB.ID, Mode: "one"}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body errorBody
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Code != "CROSS_CHANNEL_MOVE" {
		t.Fatalf("code = %q, want CROSS_CHANNEL_MOVE", body.Code)
	}
}

func TestShuttingDownRejectsNonHealthRoutes(t *testing.T) {
	s, h := newTestServer(t)
	s.BeginShutdown()

	rec := doJSON(t, h, http.MethodGet, "/api/v1/channels", nil, false)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/health", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("health during shutdown status = %d, want 200", rec.Code)
	}
}

func TestGetChannelNotFound(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/api/v1/channels/ch_missing", nil, false)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
