package contracts

import "fmt"

// Value is a typed literal in interchange form. Numeric payloads are carried
// as canonical strings (Decimal as fixed-point text with explicit scale,
// Money as amount text plus currency) so the canonical serialization is
// bit-stable across platforms. Semantics over values (comparison, scale
// reconciliation) live in pkg/value.
type Value struct {
	Kind TypeKind `json:"kind"`

	Bool     bool        `json:"bool,omitempty"`
	Int      int64       `json:"int,omitempty"`
	Decimal  string      `json:"decimal,omitempty"`
	Money    *MoneyValue `json:"money,omitempty"`
	Text     string      `json:"text,omitempty"`
	Date     string      `json:"date,omitempty"`     // ISO-8601 calendar date
	DateTime string      `json:"datetime,omitempty"` // ISO-8601 UTC instant
	Duration string      `json:"duration,omitempty"` // ISO-8601 duration
	Enum     string      `json:"enum,omitempty"`
	List     []*Value    `json:"list,omitempty"`
	Record   map[string]*Value `json:"record,omitempty"`
	Union    *UnionValue `json:"union,omitempty"`
}

// MoneyValue pairs a fixed-point amount with its ISO 4217 currency.
type MoneyValue struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// UnionValue is an active TaggedUnion variant.
type UnionValue struct {
	Variant string `json:"variant"`
	Value   *Value `json:"value"`
}

// BoolValue constructs a Bool value.
func BoolValue(b bool) *Value { return &Value{Kind: TypeBool, Bool: b} }

// IntValue constructs an Int value.
func IntValue(i int64) *Value { return &Value{Kind: TypeInt, Int: i} }

// DecimalValue constructs a Decimal value from canonical fixed-point text.
func DecimalValue(s string) *Value { return &Value{Kind: TypeDecimal, Decimal: s} }

// MoneyVal constructs a Money value.
func MoneyVal(amount, currency string) *Value {
	return &Value{Kind: TypeMoney, Money: &MoneyValue{Amount: amount, Currency: currency}}
}

// TextValue constructs a Text value.
func TextValue(s string) *Value { return &Value{Kind: TypeText, Text: s} }

// EnumValue constructs an Enum value.
func EnumValue(s string) *Value { return &Value{Kind: TypeEnum, Enum: s} }

// DateValue constructs a Date value from ISO-8601 text.
func DateValue(s string) *Value { return &Value{Kind: TypeDate, Date: s} }

// String renders the value for error messages and traces.
func (v *Value) String() string {
	if v == nil {
		return "<absent>"
	}
	switch v.Kind {
	case TypeBool:
		return fmt.Sprintf("%t", v.Bool)
	case TypeInt:
		return fmt.Sprintf("%d", v.Int)
	case TypeDecimal:
		return v.Decimal
	case TypeMoney:
		return fmt.Sprintf("%s %s", v.Money.Amount, v.Money.Currency)
	case TypeText:
		return fmt.Sprintf("%q", v.Text)
	case TypeDate:
		return v.Date
	case TypeDateTime:
		return v.DateTime
	case TypeDuration:
		return v.Duration
	case TypeEnum:
		return v.Enum
	case TypeList:
		return fmt.Sprintf("list(%d)", len(v.List))
	case TypeRecord:
		return fmt.Sprintf("record(%d)", len(v.Record))
	case TypeTaggedUnion:
		if v.Union != nil {
			return fmt.Sprintf("%s(%s)", v.Union.Variant, v.Union.Value.String())
		}
		return "union(<nil>)"
	default:
		return string(v.Kind)
	}
}
