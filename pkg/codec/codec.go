// Package codec serializes bundles to and from canonical interchange JSON.
// Decoding is defensive: incoming bytes are checked against the interchange
// schema and the tenor_version acceptance window before structural decoding,
// so malformed or incompatible bundles fail with positioned errors instead
// of partial trees.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/riverline-labs/tenor/core/pkg/canonicalize"
	"github.com/riverline-labs/tenor/core/pkg/contracts"
)

// DecodeError is a structured decode failure.
type DecodeError struct {
	Reason string
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return "decode: " + e.Reason
	}
	return fmt.Sprintf("decode: %s: %s", e.Reason, e.Detail)
}

// Encode serializes b to canonical bytes. Encoding an already-canonical
// bundle is byte-stable: Encode(Decode(bs)) == bs for canonical bs.
func Encode(b *contracts.Bundle) ([]byte, error) {
	return canonicalize.Bundle(b)
}

// Decode parses canonical bundle bytes. The payload is validated against
// the interchange schema and the version window first.
func Decode(data []byte) (*contracts.Bundle, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var head struct {
		TenorVersion string `json:"tenor_version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &DecodeError{Reason: "invalid JSON", Detail: err.Error()}
	}
	if err := CheckVersion(head.TenorVersion); err != nil {
		return nil, err
	}

	b := &contracts.Bundle{}
	if err := json.Unmarshal(data, b); err != nil {
		return nil, &DecodeError{Reason: "structural decode failed", Detail: err.Error()}
	}
	return b, nil
}

// RoundTripStable reports whether data is already in canonical form, i.e.
// decoding and re-encoding reproduces it byte-for-byte.
func RoundTripStable(data []byte) (bool, error) {
	b, err := Decode(data)
	if err != nil {
		return false, err
	}
	// Re-encode under the decoded bundle's own version so stability is a
	// property of the bytes, not of this build's version constant.
	enc, err := Encode(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(enc, data), nil
}

// CheckVersion enforces the tenor_version acceptance window: the bundle's
// major version must match this build's, and its minor must not fall below
// this build's minor — the floor. Newer minors within the major are
// accepted (they carry only optional additions); downgrades below the
// floor and other majors are rejected.
func CheckVersion(v string) error {
	return checkVersionAgainst(semver.MustParse(contracts.Version), v)
}

func checkVersionAgainst(ours *semver.Version, v string) error {
	theirs, err := semver.NewVersion(v)
	if err != nil {
		return &DecodeError{Reason: "invalid tenor_version", Detail: fmt.Sprintf("%q", v)}
	}
	if theirs.Major() != ours.Major() {
		return &DecodeError{
			Reason: "incompatible tenor_version",
			Detail: fmt.Sprintf("bundle is %s, this build reads %d.x", v, ours.Major()),
		}
	}
	if theirs.Minor() < ours.Minor() {
		return &DecodeError{
			Reason: "downgraded tenor_version",
			Detail: fmt.Sprintf("bundle is %s, below this build's floor %s", v, ours),
		}
	}
	return nil
}
