// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic hashing of Tenor bundles. Bundle identity
// is the etag: the SHA-256 digest of the canonical bytes. Trust envelopes
// and manifest capabilities never participate in the digest.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
)

// JCS returns the RFC 8785 canonical JSON representation of v: object keys
// sorted lexicographically by UTF-8 bytes, no insignificant whitespace, no
// HTML escaping.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// Bundle returns the canonical bytes of b. Constructs are re-sorted into
// canonical order first so the bytes do not depend on assembly order.
func Bundle(b *contracts.Bundle) ([]byte, error) {
	b.Normalize()
	return JCS(b)
}

// Etag computes the content digest of b: the hex SHA-256 of its canonical
// bytes.
func Etag(b *contracts.Bundle) (string, error) {
	data, err := Bundle(b)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON
// representation of v.
func CanonicalHash(v any) (string, error) {
	data, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes computes the SHA-256 hash of raw bytes as a hex string.
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
