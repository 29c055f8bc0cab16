// Package idempotency provides the idempotency ledger that guarantees
// at-most-one effective payment creation per client-supplied token.
package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint computes a deterministic SHA-256 hash of v's canonical JSON
// serialization. The value is round-tripped through a generic decode so
// that all object keys are recursively sorted before hashing; field order
// in the original request never affects the result. Numbers are preserved
// exactly via json.Number.
func Fingerprint(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize request for fingerprinting: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("failed to normalize request for fingerprinting: %w", err)
	}

	// encoding/json serializes map keys in sorted order, so remarshaling
	// the generic form yields the canonical representation.
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize request for fingerprinting: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
