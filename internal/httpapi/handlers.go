package httpapi

import (
	"net/http"
	"strconv"

	"github.com/leonletto/agentlip/internal/eventlog"
	"github.com/leonletto/agentlip/internal/model"
	"github.com/leonletto/agentlip/internal/query"
)

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	chs, err := query.ListChannels(r.Context(), s.st.DB())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": chs})
}

type createChannelReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelReq
	if !decodeJSONBody(w, r, 0, &req) {
		return
	}
	ch, eventID, err := s.ops.CreateChannel(r.Context(), req.Name, req.Description)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	s.notify(eventID)
	writeJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := query.GetChannel(r.Context(), s.st.DB(), r.PathValue("channel_id"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := query.ListTopicsByChannel(r.Context(), s.st.DB(), r.PathValue("channel_id"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

type createTopicReq struct {
	ChannelID string `json:"channel_id"`
	Title     string `json:"title"`
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicReq
	if !decodeJSONBody(w, r, 0, &req) {
		return
	}
	tp, eventID, err := s.ops.CreateTopic(r.Context(), req.ChannelID, req.Title)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	s.notify(eventID)
	writeJSON(w, http.StatusCreated, tp)
}

func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	tp, err := query.GetTopic(r.Context(), s.st.DB(), r.PathValue("topic_id"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tp)
}

type patchTopicReq struct {
	Title string `json:"title"`
}

func (s *Server) handlePatchTopic(w http.ResponseWriter, r *http.Request) {
	var req patchTopicReq
	if !decodeJSONBody(w, r, 0, &req) {
		return
	}
	tp, eventID, err := s.ops.RenameTopic(r.Context(), r.PathValue("topic_id"), req.Title)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	s.notify(eventID)
	writeJSON(w, http.StatusOK, tp)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := query.MessageFilter{
		ChannelID: q.Get("channel_id"),
		TopicID:   q.Get("topic_id"),
		BeforeID:  q.Get("before_id"),
		AfterID:   q.Get("after_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be a non-negative integer", nil)
			return
		}
		f.Limit = n
	}
	msgs, err := query.ListMessages(r.Context(), s.st.DB(), f)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type createMessageReq struct {
	TopicID    string `json:"topic_id"`
	Sender     string `json:"sender"`
	ContentRaw string `json:"content_raw"`
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageReq
	if !decodeJSONBody(w, r, int64(s.maxMessageContentBytes)+4096, &req) {
		return
	}
	msg, eventID, err := s.ops.CreateMessage(r.Context(), req.TopicID, req.Sender, req.ContentRaw, s.maxMessageContentBytes)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	s.notify(eventID)
	s.runPluginsAsync(msg.ID)
	writeJSON(w, http.StatusCreated, msg)
}

type patchMessageReq struct {
	Op              string `json:"op"`
	ContentRaw      string `json:"content_raw"`
	Actor           string `json:"actor"`
	ToTopicID       string `json:"to_topic_id"`
	Mode            string `json:"mode"`
	ExpectedVersion *int   `json:"expected_version"`
}

func (s *Server) handlePatchMessage(w http.ResponseWriter, r *http.Request) {
	var req patchMessageReq
	if !decodeJSONBody(w, r, int64(s.maxMessageContentBytes)+4096, &req) {
		return
	}
	messageID := r.PathValue("message_id")

	switch req.Op {
	case "edit":
		msg, eventID, err := s.ops.EditMessage(r.Context(), messageID, req.ContentRaw, req.ExpectedVersion, s.maxMessageContentBytes)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		s.notify(eventID)
		s.runPluginsAsync(messageID)
		writeJSON(w, http.StatusOK, msg)
	case "delete":
		eventID, err := s.ops.DeleteMessage(r.Context(), messageID, req.Actor, req.ExpectedVersion)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		if eventID != nil {
			s.notify(*eventID)
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": messageID, "deleted": true})
	case "move_topic":
		ids, err := s.ops.MoveTopic(r.Context(), messageID, req.ToTopicID, model.RetopicMode(req.Mode), req.ExpectedVersion)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		for _, id := range ids {
			s.notify(id)
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": messageID, "moved": true, "affected": len(ids)})
	default:
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "op must be one of edit|delete|move_topic", nil)
	}
}

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	atts, err := query.ListAttachments(r.Context(), s.st.DB(), r.PathValue("topic_id"), r.URL.Query().Get("kind"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attachments": atts})
}

type createAttachmentReq struct {
	Kind            string `json:"kind"`
	Key             string `json:"key"`
	ValueJSON       any    `json:"value_json"`
	DedupeKey       string `json:"dedupe_key"`
	SourceMessageID string `json:"source_message_id"`
}

func (s *Server) handleCreateAttachment(w http.ResponseWriter, r *http.Request) {
	var req createAttachmentReq
	if !decodeJSONBody(w, r, int64(s.maxAttachmentValueBytes)+4096, &req) {
		return
	}
	valueJSON, err := marshalAny(req.ValueJSON)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "value_json must be a JSON object", nil)
		return
	}
	att, eventID, err := s.ops.CreateAttachment(r.Context(), r.PathValue("topic_id"), req.Kind, req.Key, valueJSON, req.DedupeKey, req.SourceMessageID, s.maxAttachmentValueBytes)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	resp := attachmentResponse{Attachment: att, EventID: eventID}
	if eventID == nil {
		writeJSON(w, http.StatusOK, resp) // dedup hit: event_id null
		return
	}
	s.notify(*eventID)
	writeJSON(w, http.StatusCreated, resp)
}

// attachmentResponse adds the event_id the route table (spec §6) and S2
// (spec §8.3) require alongside the attachment row: non-null on create,
// null on a dedupe hit. model.Attachment itself carries no event_id column
// since attachments aren't events.
type attachmentResponse struct {
	model.Attachment
	EventID *int64 `json:"event_id"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := int64(0)
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "after must be a non-negative integer", nil)
			return
		}
		after = n
	}
	limit := s.maxReplayBatch
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	latest, err := eventlog.LatestEventID(r.Context(), s.st.DB())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	events, err := eventlog.Replay(r.Context(), s.st.DB(), after, latest, eventlog.ReplayFilter{Wildcard: true}, limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
