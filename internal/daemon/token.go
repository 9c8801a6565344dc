package daemon

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// tokenEntropyBytes gives >=128 bits of entropy per spec §4.6 ("Auth
// token"). 20 bytes = 160 bits, base64-encoded to a URL-safe token.
const tokenEntropyBytes = 20

// GenerateAuthToken returns a new bearer token with at least 128 bits of
// entropy, grounded on the teacher's identity.go use of crypto/rand for
// key material.
func GenerateAuthToken() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokensEqual compares two tokens in constant time, as spec §4.3 requires
// for the bearer-token check.
func TokensEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
