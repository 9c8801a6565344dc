package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
)

var errValueJSONRequired = errors.New("value_json is required")

// marshalAny re-serializes a decoded JSON value back to its string form,
// used for fields (value_json) the store keeps as opaque text.
func marshalAny(v any) (string, error) {
	if v == nil {
		return "", errValueJSONRequired
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// tokensEqual compares two bearer tokens in constant time. Duplicated
// (rather than imported) from internal/daemon so this package stays free
// of an import back to daemon, which imports httpapi to wire the server
// into the lifecycle.
func tokensEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
