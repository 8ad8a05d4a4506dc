package contracts

import "sort"

// Version is the interchange format version this build writes.
const Version = "1.0.0"

// Tenor is the interchange family identifier carried by bundles and
// manifest envelopes.
const Tenor = "1.x"

// Bundle is the canonical elaborated form of a contract: a self-contained
// tree of constructs. It is immutable after elaboration and freely shareable
// across goroutines; every downstream component consumes the bundle, never
// the source text.
type Bundle struct {
	ID           string      `json:"id"`
	Kind         Kind        `json:"kind"` // always KindBundle
	Tenor        string      `json:"tenor"`
	TenorVersion string      `json:"tenor_version"`
	ContractID   string      `json:"contract_id"`
	Constructs   []Construct `json:"constructs"`

	byKindID map[kindID]Construct
}

type kindID struct {
	kind Kind
	id   string
}

// NewBundle assembles a bundle from constructs and indexes it. Constructs
// are sorted into canonical order (kind, then id).
func NewBundle(contractID string, constructs []Construct) *Bundle {
	b := &Bundle{
		ID:           contractID,
		Kind:         KindBundle,
		Tenor:        Tenor,
		TenorVersion: Version,
		ContractID:   contractID,
		Constructs:   constructs,
	}
	b.Normalize()
	return b
}

// Normalize sorts constructs into canonical order and rebuilds the index.
// Decoders call it after populating Constructs.
func (b *Bundle) Normalize() {
	rank := map[Kind]int{}
	for i, k := range Kinds {
		rank[k] = i
	}
	sort.SliceStable(b.Constructs, func(i, j int) bool {
		ci, cj := b.Constructs[i], b.Constructs[j]
		if ri, rj := rank[ci.ConstructKind()], rank[cj.ConstructKind()]; ri != rj {
			return ri < rj
		}
		return ci.ConstructID() < cj.ConstructID()
	})
	b.byKindID = make(map[kindID]Construct, len(b.Constructs))
	for _, c := range b.Constructs {
		b.byKindID[kindID{c.ConstructKind(), c.ConstructID()}] = c
	}
}

// Lookup returns the construct with the given kind and id, or nil.
func (b *Bundle) Lookup(kind Kind, id string) Construct {
	if b.byKindID == nil {
		b.Normalize()
	}
	return b.byKindID[kindID{kind, id}]
}

// TypeDecl returns the named type declaration, or nil.
func (b *Bundle) TypeDecl(id string) *TypeDecl {
	if c, ok := b.Lookup(KindTypeDecl, id).(*TypeDecl); ok {
		return c
	}
	return nil
}

// Fact returns the named fact, or nil.
func (b *Bundle) Fact(id string) *Fact {
	if c, ok := b.Lookup(KindFact, id).(*Fact); ok {
		return c
	}
	return nil
}

// Persona returns the named persona, or nil.
func (b *Bundle) Persona(id string) *Persona {
	if c, ok := b.Lookup(KindPersona, id).(*Persona); ok {
		return c
	}
	return nil
}

// Entity returns the named entity, or nil.
func (b *Bundle) Entity(id string) *Entity {
	if c, ok := b.Lookup(KindEntity, id).(*Entity); ok {
		return c
	}
	return nil
}

// Rule returns the named rule, or nil.
func (b *Bundle) Rule(id string) *Rule {
	if c, ok := b.Lookup(KindRule, id).(*Rule); ok {
		return c
	}
	return nil
}

// Operation returns the named operation, or nil.
func (b *Bundle) Operation(id string) *Operation {
	if c, ok := b.Lookup(KindOperation, id).(*Operation); ok {
		return c
	}
	return nil
}

// Flow returns the named flow, or nil.
func (b *Bundle) Flow(id string) *Flow {
	if c, ok := b.Lookup(KindFlow, id).(*Flow); ok {
		return c
	}
	return nil
}

// System returns the named system, or nil.
func (b *Bundle) System(id string) *System {
	if c, ok := b.Lookup(KindSystem, id).(*System); ok {
		return c
	}
	return nil
}

// Facts returns every fact in canonical order.
func (b *Bundle) Facts() []*Fact { return collect[*Fact](b, KindFact) }

// Personas returns every persona in canonical order.
func (b *Bundle) Personas() []*Persona { return collect[*Persona](b, KindPersona) }

// Entities returns every entity in canonical order.
func (b *Bundle) Entities() []*Entity { return collect[*Entity](b, KindEntity) }

// Rules returns every rule in canonical order.
func (b *Bundle) Rules() []*Rule { return collect[*Rule](b, KindRule) }

// Operations returns every operation in canonical order.
func (b *Bundle) Operations() []*Operation { return collect[*Operation](b, KindOperation) }

// Flows returns every flow in canonical order.
func (b *Bundle) Flows() []*Flow { return collect[*Flow](b, KindFlow) }

// Systems returns every system in canonical order.
func (b *Bundle) Systems() []*System { return collect[*System](b, KindSystem) }

// TypeDecls returns every type declaration in canonical order.
func (b *Bundle) TypeDecls() []*TypeDecl { return collect[*TypeDecl](b, KindTypeDecl) }

// RuleProducing returns the rule producing the given verdict type, or nil.
// Verdict uniqueness guarantees at most one.
func (b *Bundle) RuleProducing(verdictType string) *Rule {
	for _, r := range b.Rules() {
		if r.Produce.VerdictType == verdictType {
			return r
		}
	}
	return nil
}

// MaxStratum returns the highest declared rule stratum, or -1 with no rules.
func (b *Bundle) MaxStratum() int {
	max := -1
	for _, r := range b.Rules() {
		if r.Stratum > max {
			max = r.Stratum
		}
	}
	return max
}

func collect[T Construct](b *Bundle, kind Kind) []T {
	var out []T
	for _, c := range b.Constructs {
		if c.ConstructKind() == kind {
			out = append(out, c.(T))
		}
	}
	return out
}
