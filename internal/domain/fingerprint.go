package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CanonicalPayload validates raw as JSON and re-encodes it with sorted object
// keys and no insignificant whitespace. A nil, empty or JSON null payload
// canonicalizes to nil.
func CanonicalPayload(raw []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: payload is not valid JSON: %v", ErrInvalidJob, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: payload has trailing data", ErrInvalidJob)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: re-encode payload: %v", ErrInvalidJob, err)
	}
	return out, nil
}

// Fingerprint is the stable hash of a canonical payload. Absent payloads
// fingerprint to the empty string so they still take part in dedup.
func Fingerprint(canonical json.RawMessage) string {
	if len(canonical) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// NormalizeTargetKey trims whitespace and applies Unicode NFC so paths
// reported by different producers (a watcher on an NFD filesystem and a
// scanner reading NFC names) dedup to the same key.
func NormalizeTargetKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return norm.NFC.String(key)
}
