package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// decodeJSONBody enforces content-type, size, and well-formedness per spec
// §4.3: wrong content type is 415, oversize is 413, malformed JSON is 400,
// and no error message ever echoes the offending body. maxBytes <= 0 means
// unbounded.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "INVALID_INPUT", "content-type must be application/json", nil)
		return false
	}

	body := r.Body
	if maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "payload too large", nil)
		return false
	}
	if len(data) == 0 {
		return true // empty body decodes to dst's zero value
	}
	if err := json.Unmarshal(data, dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "malformed json", nil)
		return false
	}
	return true
}
