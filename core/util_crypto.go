package core

import (
	"crypto/sha256"
	"encoding/json"
)

func sha256Sum(b []byte) [32]byte { return sha256.Sum256(b) }

// containsJSONValue reports whether decoding data as a JSON object yields
// field == want. Used for the WebAuthn clientDataJSON origin check.
func containsJSONValue(data []byte, field, want string) bool {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	v, ok := m[field].(string)
	return ok && v == want
}
