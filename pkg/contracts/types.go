// Package contracts defines the Tenor interchange data model: the construct
// variants a bundle may contain, the type system, typed values, predicate
// expressions, flow steps, and the closed error vocabulary.
//
// The model is a closed set of tagged variants. Every consumer (elaborator,
// analyzer, evaluator, executor, explain) switches exhaustively on the kind
// discriminators; there is no open polymorphism.
package contracts

import "fmt"

// TypeKind discriminates the type variants.
type TypeKind string

const (
	TypeBool        TypeKind = "Bool"
	TypeInt         TypeKind = "Int"
	TypeDecimal     TypeKind = "Decimal"
	TypeMoney       TypeKind = "Money"
	TypeText        TypeKind = "Text"
	TypeDate        TypeKind = "Date"
	TypeDateTime    TypeKind = "DateTime"
	TypeDuration    TypeKind = "Duration"
	TypeEnum        TypeKind = "Enum"
	TypeList        TypeKind = "List"
	TypeRecord      TypeKind = "Record"
	TypeTaggedUnion TypeKind = "TaggedUnion"

	// TypeNamed is an unresolved reference to a TypeDecl. It only exists
	// between parsing and elaboration pass 2; a canonical bundle never
	// contains one.
	TypeNamed TypeKind = "Named"
)

// Type is the closed type tree. Exactly the fields for the active Kind are
// populated; everything else stays at its zero value and is omitted from the
// canonical serialization.
type Type struct {
	Kind TypeKind `json:"kind"`

	// Int bounds, both optional.
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`

	// Decimal precision/scale. Precision counts total digits, Scale the
	// fractional digits.
	Precision int `json:"precision,omitempty"`
	Scale     int `json:"scale,omitempty"`

	// Money currency, ISO 4217.
	Currency string `json:"currency,omitempty"`

	// Text bound, optional.
	MaxLength *int `json:"max_length,omitempty"`

	// Enum values, declaration order.
	Values []string `json:"values,omitempty"`

	// List element and optional bound.
	Elem     *Type `json:"elem,omitempty"`
	MaxItems *int  `json:"max_items,omitempty"`

	// Record fields / TaggedUnion variants. Serialized with sorted keys by
	// the canonicalizer.
	Fields   map[string]*Type `json:"fields,omitempty"`
	Variants map[string]*Type `json:"variants,omitempty"`

	// Named reference, pre-resolution only.
	Name string `json:"name,omitempty"`
}

// Comparable reports whether values of this type admit ordering comparisons
// (< ≤ > ≥). Equality is defined for every type.
func (t *Type) Comparable() bool {
	switch t.Kind {
	case TypeInt, TypeDecimal, TypeMoney, TypeDate, TypeDateTime, TypeDuration:
		return true
	default:
		return false
	}
}

// Equal reports structural type equality.
func (t *Type) Equal(o *Type) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case TypeInt:
		return eqInt64Ptr(t.Min, o.Min) && eqInt64Ptr(t.Max, o.Max)
	case TypeDecimal:
		return t.Precision == o.Precision && t.Scale == o.Scale
	case TypeMoney:
		return t.Currency == o.Currency
	case TypeText:
		return eqIntPtr(t.MaxLength, o.MaxLength)
	case TypeEnum:
		if len(t.Values) != len(o.Values) {
			return false
		}
		for i, v := range t.Values {
			if o.Values[i] != v {
				return false
			}
		}
		return true
	case TypeList:
		return eqIntPtr(t.MaxItems, o.MaxItems) && t.Elem.Equal(o.Elem)
	case TypeRecord:
		return eqTypeMap(t.Fields, o.Fields)
	case TypeTaggedUnion:
		return eqTypeMap(t.Variants, o.Variants)
	case TypeNamed:
		return t.Name == o.Name
	default:
		return true
	}
}

// String renders a compact human-readable form, used in error messages.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TypeDecimal:
		return fmt.Sprintf("Decimal(%d,%d)", t.Precision, t.Scale)
	case TypeMoney:
		return fmt.Sprintf("Money(%s)", t.Currency)
	case TypeList:
		return fmt.Sprintf("List<%s>", t.Elem.String())
	case TypeNamed:
		return t.Name
	default:
		return string(t.Kind)
	}
}

func eqInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTypeMap(a, b map[string]*Type) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}
