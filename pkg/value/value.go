// Package value implements the runtime semantics of interchange values:
// comparison with fixed-point decimal scale reconciliation, currency
// guarding for Money, canonical text forms, and conformance of values to
// declared types.
package value

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
)

// Error is a typed evaluation error carrying one of the closed evaluation
// error kinds.
type Error struct {
	Kind    contracts.ErrKind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func errf(kind contracts.ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ParseDecimal parses canonical fixed-point text.
func ParseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errf(contracts.ErrPredicate, "invalid decimal %q", s)
	}
	return d, nil
}

// CanonicalDecimal renders d at exactly the given scale, rounding half-even
// when digits are dropped. This is the single textual form the interchange
// serialization uses.
func CanonicalDecimal(d decimal.Decimal, scale int) string {
	return d.RoundBank(int32(scale)).StringFixed(int32(scale))
}

// NormalizeDecimalText re-renders decimal text at the given scale.
func NormalizeDecimalText(s string, scale int) (string, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return "", err
	}
	return CanonicalDecimal(d, scale), nil
}

// Compare orders a against b, returning -1, 0, or 1. Both values must share
// a comparable kind. Decimals of differing scales are reconciled by
// comparing exact magnitudes (rendering back to a common scale is only done
// for serialization, never for ordering). Money comparison across
// currencies is a CurrencyMismatch error.
func Compare(a, b *contracts.Value) (int, error) {
	if a == nil || b == nil {
		return 0, errf(contracts.ErrFactAbsent, "comparison against absent value")
	}
	if a.Kind != b.Kind {
		return 0, errf(contracts.ErrTypeMismatch, "cannot compare %s with %s", a.Kind, b.Kind)
	}
	switch a.Kind {
	case contracts.TypeBool:
		return cmpBool(a.Bool, b.Bool), nil
	case contracts.TypeInt:
		return cmpInt(a.Int, b.Int), nil
	case contracts.TypeDecimal:
		da, err := ParseDecimal(a.Decimal)
		if err != nil {
			return 0, err
		}
		db, err := ParseDecimal(b.Decimal)
		if err != nil {
			return 0, err
		}
		return da.Cmp(db), nil
	case contracts.TypeMoney:
		if a.Money.Currency != b.Money.Currency {
			return 0, errf(contracts.ErrCurrencyMismatch,
				"cannot compare %s with %s", a.Money.Currency, b.Money.Currency)
		}
		da, err := ParseDecimal(a.Money.Amount)
		if err != nil {
			return 0, err
		}
		db, err := ParseDecimal(b.Money.Amount)
		if err != nil {
			return 0, err
		}
		return da.Cmp(db), nil
	case contracts.TypeDate:
		ta, err := ParseDate(a.Date)
		if err != nil {
			return 0, err
		}
		tb, err := ParseDate(b.Date)
		if err != nil {
			return 0, err
		}
		return cmpTime(ta, tb), nil
	case contracts.TypeDateTime:
		ta, err := ParseDateTime(a.DateTime)
		if err != nil {
			return 0, err
		}
		tb, err := ParseDateTime(b.DateTime)
		if err != nil {
			return 0, err
		}
		return cmpTime(ta, tb), nil
	case contracts.TypeDuration:
		da, err := ParseDuration(a.Duration)
		if err != nil {
			return 0, err
		}
		db, err := ParseDuration(b.Duration)
		if err != nil {
			return 0, err
		}
		return cmpInt(int64(da), int64(db)), nil
	case contracts.TypeText:
		// Text admits equality only; ordering is rejected by the type
		// checker, so Compare only answers eq/ne here.
		return cmpText(a.Text, b.Text), nil
	case contracts.TypeEnum:
		return cmpText(a.Enum, b.Enum), nil
	default:
		return 0, errf(contracts.ErrTypeMismatch, "type %s is not comparable", a.Kind)
	}
}

// Equal reports deep equality of two values of the same kind.
func Equal(a, b *contracts.Value) (bool, error) {
	if a == nil || b == nil {
		return false, errf(contracts.ErrFactAbsent, "equality against absent value")
	}
	if a.Kind != b.Kind {
		return false, errf(contracts.ErrTypeMismatch, "cannot compare %s with %s", a.Kind, b.Kind)
	}
	switch a.Kind {
	case contracts.TypeList:
		if len(a.List) != len(b.List) {
			return false, nil
		}
		for i := range a.List {
			ok, err := Equal(a.List[i], b.List[i])
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case contracts.TypeRecord:
		if len(a.Record) != len(b.Record) {
			return false, nil
		}
		for k, av := range a.Record {
			bv, ok := b.Record[k]
			if !ok {
				return false, nil
			}
			eq, err := Equal(av, bv)
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	case contracts.TypeTaggedUnion:
		if a.Union.Variant != b.Union.Variant {
			return false, nil
		}
		return Equal(a.Union.Value, b.Union.Value)
	default:
		c, err := Compare(a, b)
		if err != nil {
			return false, err
		}
		return c == 0, nil
	}
}

// Field extracts a named field from a Record value. On a TaggedUnion the
// access succeeds only when the active variant carries a record with that
// field; a different variant is a VariantMismatch.
func Field(v *contracts.Value, name string) (*contracts.Value, error) {
	if v == nil {
		return nil, errf(contracts.ErrFactAbsent, "field %q of absent value", name)
	}
	switch v.Kind {
	case contracts.TypeRecord:
		f, ok := v.Record[name]
		if !ok {
			return nil, errf(contracts.ErrPredicate, "record has no field %q", name)
		}
		return f, nil
	case contracts.TypeTaggedUnion:
		if v.Union == nil || v.Union.Value == nil {
			return nil, errf(contracts.ErrVariantMismatch, "union has no active variant")
		}
		if v.Union.Value.Kind != contracts.TypeRecord {
			return nil, errf(contracts.ErrVariantMismatch,
				"active variant %q does not carry field %q", v.Union.Variant, name)
		}
		f, ok := v.Union.Value.Record[name]
		if !ok {
			return nil, errf(contracts.ErrVariantMismatch,
				"active variant %q does not carry field %q", v.Union.Variant, name)
		}
		return f, nil
	default:
		return nil, errf(contracts.ErrPredicate, "field access on %s", v.Kind)
	}
}

// ParseDate parses an ISO-8601 calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errf(contracts.ErrPredicate, "invalid date %q", s)
	}
	return t, nil
}

// ParseDateTime parses an ISO-8601 UTC instant.
func ParseDateTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errf(contracts.ErrPredicate, "invalid datetime %q", s)
	}
	return t.UTC(), nil
}

// ParseDuration parses a Go-form duration string.
func ParseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errf(contracts.ErrPredicate, "invalid duration %q", s)
	}
	return d, nil
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpText(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
