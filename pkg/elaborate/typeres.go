package elaborate

import (
	"fmt"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/value"
)

// passTypeResolution resolves every named type reference into a fully
// specified type tree, validates structural constraints, and checks fact
// defaults against their resolved types. Canonical bundles carry no named
// references; declarations are flattened here.
func passTypeResolution(u *unit) contracts.ElaborationErrors {
	r := &typeResolver{u: u, resolved: map[string]*contracts.Type{}}

	for _, td := range u.typeDecls {
		td.Body = r.resolve(td.Body, td.Prov, map[string]bool{td.ID: true})
	}
	for _, f := range u.facts {
		f.Type = r.resolve(f.Type, f.Prov, map[string]bool{})
		if f.Type != nil {
			r.checkStructure(f.Type, f.Prov)
		}
	}
	for _, rl := range u.rules {
		if rl.PayloadType != nil {
			rl.PayloadType = r.resolve(rl.PayloadType, rl.Prov, map[string]bool{})
		}
	}
	for _, td := range u.typeDecls {
		if td.Body != nil {
			r.checkStructure(td.Body, td.Prov)
		}
	}

	// Fact defaults must conform to the resolved type; decimal default text
	// is normalized to the declared scale and money amounts to two decimal
	// places so the canonical form is stable.
	for _, f := range u.facts {
		if f.Type == nil || f.Default == nil {
			continue
		}
		coerceLiteral(f.Default, f.Type)
		if err := value.Conforms(f.Default, f.Type); err != nil {
			r.errf(contracts.ErrTypeMismatch, f.Prov, f.ID,
				"default for fact %q does not conform to %s: %v", f.ID, f.Type, err)
			continue
		}
		normalizeScale(f.Default, f.Type)
	}

	// Source references on facts must name a declared source.
	for _, f := range u.facts {
		if f.Source != "" && u.sourcesByID[f.Source] == nil {
			r.errf(contracts.ErrUnresolvedReference, f.Prov, f.ID,
				"fact %q references undeclared source %q", f.ID, f.Source)
		}
	}
	return r.errs
}

type typeResolver struct {
	u        *unit
	resolved map[string]*contracts.Type
	errs     contracts.ElaborationErrors
}

func (r *typeResolver) errf(kind contracts.ErrKind, prov contracts.Provenance, id, format string, args ...any) {
	r.errs = append(r.errs, &contracts.ElaborationError{
		Kind: kind, Message: fmt.Sprintf(format, args...), ConstructID: id, Prov: prov,
	})
}

// resolve rewrites named references into their declared bodies. The inFlight
// set catches recursive type definitions, which the language forbids.
func (r *typeResolver) resolve(t *contracts.Type, prov contracts.Provenance, inFlight map[string]bool) *contracts.Type {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case contracts.TypeNamed:
		if inFlight[t.Name] {
			r.errf(contracts.ErrUnknownType, prov, t.Name, "recursive type %q", t.Name)
			return nil
		}
		decl := r.u.typesByID[t.Name]
		if decl == nil {
			r.errf(contracts.ErrUnknownType, prov, t.Name, "unknown type %q", t.Name)
			return nil
		}
		if cached := r.resolved[t.Name]; cached != nil {
			return cached
		}
		inFlight[t.Name] = true
		body := r.resolve(decl.Body, decl.Prov, inFlight)
		delete(inFlight, t.Name)
		if body != nil {
			r.resolved[t.Name] = body
		}
		return body
	case contracts.TypeList:
		t.Elem = r.resolve(t.Elem, prov, inFlight)
	case contracts.TypeRecord:
		for name, ft := range t.Fields {
			t.Fields[name] = r.resolve(ft, prov, inFlight)
		}
	case contracts.TypeTaggedUnion:
		for name, vt := range t.Variants {
			t.Variants[name] = r.resolve(vt, prov, inFlight)
		}
	}
	return t
}

// checkStructure validates constraints the grammar cannot express.
func (r *typeResolver) checkStructure(t *contracts.Type, prov contracts.Provenance) {
	if t == nil {
		return
	}
	switch t.Kind {
	case contracts.TypeInt:
		if t.Min != nil && t.Max != nil && *t.Min > *t.Max {
			r.errf(contracts.ErrTypeMismatch, prov, "", "int bounds inverted: %d > %d", *t.Min, *t.Max)
		}
	case contracts.TypeDecimal:
		if t.Scale < 0 || t.Precision <= 0 || t.Scale > t.Precision {
			r.errf(contracts.ErrTypeMismatch, prov, "",
				"invalid decimal precision/scale (%d,%d)", t.Precision, t.Scale)
		}
	case contracts.TypeMoney:
		if len(t.Currency) != 3 {
			r.errf(contracts.ErrTypeMismatch, prov, "", "invalid currency %q", t.Currency)
		}
	case contracts.TypeEnum:
		if len(t.Values) == 0 {
			r.errf(contracts.ErrTypeMismatch, prov, "", "enum with no values")
		}
	case contracts.TypeList:
		r.checkStructure(t.Elem, prov)
	case contracts.TypeRecord:
		for _, ft := range t.Fields {
			r.checkStructure(ft, prov)
		}
	case contracts.TypeTaggedUnion:
		if len(t.Variants) == 0 {
			r.errf(contracts.ErrTypeMismatch, prov, "", "union with no variants")
		}
		for _, vt := range t.Variants {
			r.checkStructure(vt, prov)
		}
	}
}

// coerceLiteral adapts parse-shape literals to the declared type where the
// source form is ambiguous: integer text to Decimal, quoted text to Enum.
func coerceLiteral(v *contracts.Value, t *contracts.Type) {
	if v == nil || t == nil {
		return
	}
	switch {
	case t.Kind == contracts.TypeDecimal && v.Kind == contracts.TypeInt:
		v.Kind = contracts.TypeDecimal
		v.Decimal = fmt.Sprintf("%d", v.Int)
		v.Int = 0
	case t.Kind == contracts.TypeEnum && v.Kind == contracts.TypeText:
		v.Kind = contracts.TypeEnum
		v.Enum = v.Text
		v.Text = ""
	case t.Kind == contracts.TypeList && v.Kind == contracts.TypeList:
		for _, e := range v.List {
			coerceLiteral(e, t.Elem)
		}
	case t.Kind == contracts.TypeRecord && v.Kind == contracts.TypeRecord:
		for name, fv := range v.Record {
			coerceLiteral(fv, t.Fields[name])
		}
	}
}

// normalizeScale rewrites decimal and money text to the declared scale so
// canonical bytes do not depend on how the author spelled the literal.
func normalizeScale(v *contracts.Value, t *contracts.Type) {
	if v == nil || t == nil {
		return
	}
	switch t.Kind {
	case contracts.TypeDecimal:
		if s, err := value.NormalizeDecimalText(v.Decimal, t.Scale); err == nil {
			v.Decimal = s
		}
	case contracts.TypeMoney:
		if v.Money != nil {
			if s, err := value.NormalizeDecimalText(v.Money.Amount, 2); err == nil {
				v.Money.Amount = s
			}
		}
	case contracts.TypeList:
		for _, e := range v.List {
			normalizeScale(e, t.Elem)
		}
	case contracts.TypeRecord:
		for name, fv := range v.Record {
			normalizeScale(fv, t.Fields[name])
		}
	}
}
