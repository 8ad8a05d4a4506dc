package contracts

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON writes the bundle with each construct carrying its kind
// discriminator. Field-level ordering is irrelevant here; canonical byte
// form is the canonicalizer's job.
func (b *Bundle) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(b.Constructs))
	for _, c := range b.Constructs {
		enc, err := marshalConstruct(c)
		if err != nil {
			return nil, err
		}
		raw = append(raw, enc)
	}
	return json.Marshal(struct {
		ID           string            `json:"id"`
		Kind         Kind              `json:"kind"`
		Tenor        string            `json:"tenor"`
		TenorVersion string            `json:"tenor_version"`
		ContractID   string            `json:"contract_id"`
		Constructs   []json.RawMessage `json:"constructs"`
	}{
		ID:           b.ID,
		Kind:         KindBundle,
		Tenor:        b.Tenor,
		TenorVersion: b.TenorVersion,
		ContractID:   b.ContractID,
		Constructs:   raw,
	})
}

func marshalConstruct(c Construct) (json.RawMessage, error) {
	enc, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(enc, &fields); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(c.ConstructKind())
	if err != nil {
		return nil, err
	}
	fields["kind"] = kind
	return json.Marshal(fields)
}

// UnmarshalJSON reads a bundle, dispatching each construct on its kind
// discriminator. Unknown kinds are rejected: the construct set is closed.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	var head struct {
		ID           string            `json:"id"`
		Kind         Kind              `json:"kind"`
		Tenor        string            `json:"tenor"`
		TenorVersion string            `json:"tenor_version"`
		ContractID   string            `json:"contract_id"`
		Constructs   []json.RawMessage `json:"constructs"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.Kind != KindBundle {
		return fmt.Errorf("not a bundle: kind %q", head.Kind)
	}
	b.ID = head.ID
	b.Kind = head.Kind
	b.Tenor = head.Tenor
	b.TenorVersion = head.TenorVersion
	b.ContractID = head.ContractID
	b.Constructs = b.Constructs[:0]
	for i, raw := range head.Constructs {
		c, err := unmarshalConstruct(raw)
		if err != nil {
			return fmt.Errorf("construct %d: %w", i, err)
		}
		b.Constructs = append(b.Constructs, c)
	}
	b.Normalize()
	return nil
}

func unmarshalConstruct(raw json.RawMessage) (Construct, error) {
	var disc struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil {
		return nil, err
	}
	var c Construct
	switch disc.Kind {
	case KindTypeDecl:
		c = &TypeDecl{}
	case KindFact:
		c = &Fact{}
	case KindPersona:
		c = &Persona{}
	case KindEntity:
		c = &Entity{}
	case KindRule:
		c = &Rule{}
	case KindOperation:
		c = &Operation{}
	case KindFlow:
		c = &Flow{}
	case KindSystem:
		c = &System{}
	default:
		return nil, fmt.Errorf("unknown construct kind %q", disc.Kind)
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, err
	}
	return c, nil
}
