// Package manifest wraps bundles in the serving envelope: the canonical
// bundle, its etag, optional capability advertisements, and an optional
// trust envelope. The etag is computed over the canonical bundle bytes
// alone — capabilities and trust never participate in bundle identity.
package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/riverline-labs/tenor/core/pkg/canonicalize"
	"github.com/riverline-labs/tenor/core/pkg/codec"
	"github.com/riverline-labs/tenor/core/pkg/contracts"
)

// Capabilities advertises optional extensions a serving endpoint supports.
type Capabilities struct {
	MultiInstanceEntities bool `json:"multi_instance_entities,omitempty"`
	ExistentialQuantifier bool `json:"existential_quantifier,omitempty"`
	Simulation            bool `json:"simulation,omitempty"`
}

// Trust carries a detached signature over the etag. The signature scheme is
// pkg/trust's; the manifest only transports it.
type Trust struct {
	Scheme    string `json:"scheme"`
	KeyID     string `json:"key_id,omitempty"`
	Signature string `json:"signature"`
}

// Manifest is the envelope a bundle is stored or served in.
type Manifest struct {
	Tenor        string          `json:"tenor"`
	Bundle       json.RawMessage `json:"bundle"`
	Etag         string          `json:"etag"`
	Capabilities *Capabilities   `json:"capabilities,omitempty"`
	Trust        *Trust          `json:"trust,omitempty"`
}

// Build envelopes a bundle, computing its canonical bytes and etag.
func Build(b *contracts.Bundle) (*Manifest, error) {
	data, err := canonicalize.Bundle(b)
	if err != nil {
		return nil, fmt.Errorf("manifest: canonicalize: %w", err)
	}
	return &Manifest{
		Tenor:  contracts.Tenor,
		Bundle: json.RawMessage(data),
		Etag:   canonicalize.HashBytes(data),
	}, nil
}

// WithCapabilities attaches capability advertisements. The etag is
// unaffected.
func (m *Manifest) WithCapabilities(c Capabilities) *Manifest {
	m.Capabilities = &c
	return m
}

// WithTrust attaches a trust envelope. The etag is unaffected.
func (m *Manifest) WithTrust(t Trust) *Manifest {
	m.Trust = &t
	return m
}

// Open verifies and unpacks a manifest: the embedded bundle must decode and
// its canonical bytes must hash to the declared etag.
func Open(data []byte) (*Manifest, *contracts.Bundle, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("manifest: invalid envelope: %w", err)
	}
	b, err := codec.Decode(m.Bundle)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: %w", err)
	}
	etag, err := canonicalize.Etag(b)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: %w", err)
	}
	if etag != m.Etag {
		return nil, nil, fmt.Errorf("manifest: etag mismatch: envelope declares %s, bundle hashes to %s", m.Etag, etag)
	}
	return &m, b, nil
}
