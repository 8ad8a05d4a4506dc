package value

import (
	"golang.org/x/text/unicode/norm"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
)

// Conforms checks v against the declared type t, returning a typed error
// naming the first violation. Text is compared after NFC normalization so
// canonically-equal Unicode spellings behave identically.
func Conforms(v *contracts.Value, t *contracts.Type) error {
	if v == nil {
		return errf(contracts.ErrFactAbsent, "absent value for type %s", t)
	}
	if v.Kind != t.Kind {
		return errf(contracts.ErrTypeMismatch, "value of kind %s where %s expected", v.Kind, t)
	}
	switch t.Kind {
	case contracts.TypeInt:
		if t.Min != nil && v.Int < *t.Min {
			return errf(contracts.ErrTypeMismatch, "%d below minimum %d", v.Int, *t.Min)
		}
		if t.Max != nil && v.Int > *t.Max {
			return errf(contracts.ErrTypeMismatch, "%d above maximum %d", v.Int, *t.Max)
		}
	case contracts.TypeDecimal:
		d, err := ParseDecimal(v.Decimal)
		if err != nil {
			return err
		}
		if !d.Equal(d.Truncate(int32(t.Scale))) {
			return errf(contracts.ErrTypeMismatch,
				"decimal %s exceeds scale %d", v.Decimal, t.Scale)
		}
	case contracts.TypeMoney:
		if v.Money == nil {
			return errf(contracts.ErrTypeMismatch, "money value without amount")
		}
		if v.Money.Currency != t.Currency {
			return errf(contracts.ErrCurrencyMismatch,
				"currency %s where %s expected", v.Money.Currency, t.Currency)
		}
		if _, err := ParseDecimal(v.Money.Amount); err != nil {
			return err
		}
	case contracts.TypeText:
		if t.MaxLength != nil && len([]rune(NormalizeText(v.Text))) > *t.MaxLength {
			return errf(contracts.ErrTypeMismatch, "text exceeds max length %d", *t.MaxLength)
		}
	case contracts.TypeDate:
		if _, err := ParseDate(v.Date); err != nil {
			return err
		}
	case contracts.TypeDateTime:
		if _, err := ParseDateTime(v.DateTime); err != nil {
			return err
		}
	case contracts.TypeDuration:
		if _, err := ParseDuration(v.Duration); err != nil {
			return err
		}
	case contracts.TypeEnum:
		for _, ev := range t.Values {
			if v.Enum == ev {
				return nil
			}
		}
		return errf(contracts.ErrTypeMismatch, "%q is not a value of %s", v.Enum, t)
	case contracts.TypeList:
		if t.MaxItems != nil && len(v.List) > *t.MaxItems {
			return errf(contracts.ErrTypeMismatch, "list exceeds max items %d", *t.MaxItems)
		}
		for _, e := range v.List {
			if err := Conforms(e, t.Elem); err != nil {
				return err
			}
		}
	case contracts.TypeRecord:
		for name, ft := range t.Fields {
			fv, ok := v.Record[name]
			if !ok {
				return errf(contracts.ErrTypeMismatch, "record missing field %q", name)
			}
			if err := Conforms(fv, ft); err != nil {
				return err
			}
		}
	case contracts.TypeTaggedUnion:
		if v.Union == nil {
			return errf(contracts.ErrTypeMismatch, "union value without active variant")
		}
		vt, ok := t.Variants[v.Union.Variant]
		if !ok {
			return errf(contracts.ErrTypeMismatch, "%q is not a variant of %s", v.Union.Variant, t)
		}
		return Conforms(v.Union.Value, vt)
	}
	return nil
}

// NormalizeText applies Unicode NFC normalization, the canonical form Text
// values are serialized and compared in.
func NormalizeText(s string) string {
	return norm.NFC.String(s)
}
