package idempotency

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// HashCanonical serializes payload to canonical JSON and returns the
// base64url-encoded (unpadded) SHA-256 digest. encoding/json emits struct
// fields in declaration order and sorts map keys, so two logically identical
// payloads always hash identically regardless of incidental formatting.
func HashCanonical(payload any) (string, error) {
	const op = "idempotency.HashCanonical"

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%s:%w", op, err)
	}

	sum := sha256.Sum256(b)

	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
