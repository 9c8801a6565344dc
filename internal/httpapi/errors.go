package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/leonletto/agentlip/internal/model"
)

// errorBody is the {error, code, details?} shape spec §4.3/§7 requires.
// No error response ever echoes request-body content or the auth token.
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message, Code: code, Details: details})
}

// writeMappedError translates a named error kind from model/mutate/plugin
// into the HTTP status + code pair, mirroring the propagation policy in
// spec §7: unique-constraint violations already arrive pre-mapped to
// ErrInvalidInput by mutate; anything unrecognized is logged and surfaced
// as a fixed INTERNAL_ERROR body.
func writeMappedError(w http.ResponseWriter, err error) {
	var vc *model.VersionConflictError
	if errors.As(err, &vc) {
		writeError(w, http.StatusConflict, vc.Code(), "version conflict", map[string]any{"current": vc.Current})
		return
	}

	switch {
	case errors.Is(err, model.ErrMissingAuth):
		writeError(w, http.StatusUnauthorized, "MISSING_AUTH", "missing authorization header", nil)
	case errors.Is(err, model.ErrInvalidAuth):
		writeError(w, http.StatusUnauthorized, "INVALID_AUTH", "invalid bearer token", nil)
	case errors.Is(err, model.ErrNoAuthConfigured):
		writeError(w, http.StatusUnauthorized, "NO_AUTH_CONFIGURED", "no auth token configured", nil)
	case errors.Is(err, model.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid input", nil)
	case errors.Is(err, model.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "payload too large", nil)
	case errors.Is(err, model.ErrChannelNotFound), errors.Is(err, model.ErrTopicNotFound),
		errors.Is(err, model.ErrMessageNotFound), errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	case errors.Is(err, model.ErrMessageDeleted):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "message already deleted", nil)
	case errors.Is(err, model.ErrCrossChannelMove):
		writeError(w, http.StatusBadRequest, "CROSS_CHANNEL_MOVE", "cannot move message across channels", nil)
	case errors.Is(err, model.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limited", nil)
	case errors.Is(err, model.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "server shutting down", nil)
	default:
		log.Printf("httpapi: unmapped error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}
