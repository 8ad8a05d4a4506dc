package elaborate

import (
	"fmt"
	"strings"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/parser"
)

// passStratumValidation enforces verdict uniqueness, the strictly-lower
// stratum rule for verdict_present references inside rule predicates, and
// type-checks every predicate and payload expression.
func passStratumValidation(u *unit) contracts.ElaborationErrors {
	c := &checker{u: u}

	u.producers = map[string]*parser.RuleDecl{}
	for _, rl := range u.rules {
		if prev, dup := u.producers[rl.VerdictType]; dup {
			c.errf(contracts.ErrVerdictCollision, rl.Prov, rl.ID,
				"verdict %q is produced by both %q and %q", rl.VerdictType, prev.ID, rl.ID)
			continue
		}
		u.producers[rl.VerdictType] = rl
	}

	for _, rl := range u.rules {
		for _, vt := range rl.When.VerdictRefs() {
			producer := u.producers[vt]
			if producer == nil {
				continue // pass 3 reported the dangling reference
			}
			if producer.Stratum >= rl.Stratum {
				c.errf(contracts.ErrStratumViolation, rl.Prov, rl.ID,
					"rule %q at stratum %d references verdict %q produced by %q at stratum %d; references must point strictly below",
					rl.ID, rl.Stratum, vt, producer.ID, producer.Stratum)
			}
		}

		c.checkBool(rl.When, rl.ID, nil)

		if rl.Payload != nil {
			got := c.infer(rl.Payload, rl.ID, nil)
			if got != nil && rl.PayloadType != nil {
				c.coerceComparison(rl.Payload, &got, rl.PayloadType)
				if !got.Equal(rl.PayloadType) {
					c.errf(contracts.ErrTypeMismatch, rl.Prov, rl.ID,
						"rule %q payload is %s but %s was declared", rl.ID, got, rl.PayloadType)
				}
			}
		}
	}

	for _, op := range u.operations {
		if op.Precondition != nil {
			c.checkBool(op.Precondition, op.ID, nil)
		}
	}
	for _, fl := range u.flows {
		var walk func(steps map[string]*contracts.Step)
		walk = func(steps map[string]*contracts.Step) {
			for _, id := range sortedStepIDs(steps) {
				s := steps[id]
				if s.Kind == contracts.StepBranch {
					c.checkBool(s.Condition, s.ID, nil)
				}
				if s.Kind == contracts.StepParallel {
					for _, br := range s.Branches {
						walk(br.Steps)
					}
				}
			}
		}
		walk(fl.Steps)
	}
	return c.errs
}

type checker struct {
	u    *unit
	errs contracts.ElaborationErrors
}

func (c *checker) errf(kind contracts.ErrKind, prov contracts.Provenance, id, format string, args ...any) {
	c.errs = append(c.errs, &contracts.ElaborationError{
		Kind: kind, Message: fmt.Sprintf(format, args...), ConstructID: id, Prov: prov,
	})
}

type binding struct {
	name string
	typ  *contracts.Type
}

func (c *checker) checkBool(e *contracts.Expr, owner string, env []binding) {
	t := c.infer(e, owner, env)
	if t != nil && t.Kind != contracts.TypeBool {
		c.errf(contracts.ErrTypeMismatch, e.Prov, owner,
			"predicate in %q has type %s, not Bool", owner, t)
	}
}

// infer computes the static type of e, reporting mismatches as it goes.
// A nil return means the subtree already failed and callers stay quiet.
func (c *checker) infer(e *contracts.Expr, owner string, env []binding) *contracts.Type {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case contracts.ExprLiteral:
		return literalType(e.Literal)
	case contracts.ExprFactRef:
		if f := c.u.factsByID[e.Ref]; f != nil {
			return f.Type
		}
		return nil
	case contracts.ExprVar:
		for i := len(env) - 1; i >= 0; i-- {
			if env[i].name == e.Ref {
				return env[i].typ
			}
		}
		return nil
	case contracts.ExprVerdictPresent:
		return &contracts.Type{Kind: contracts.TypeBool}
	case contracts.ExprField:
		return c.inferField(e, owner, env)
	case contracts.ExprCompare:
		lt := c.infer(e.Left, owner, env)
		rt := c.infer(e.Right, owner, env)
		if lt == nil || rt == nil {
			return nil
		}
		c.coerceComparison(e.Right, &rt, lt)
		c.coerceComparison(e.Left, &lt, rt)
		if lt.Kind != rt.Kind {
			c.errf(contracts.ErrTypeMismatch, e.Prov, owner,
				"cannot compare %s with %s", lt, rt)
			return nil
		}
		if lt.Kind == contracts.TypeMoney && lt.Currency != rt.Currency {
			c.errf(contracts.ErrTypeMismatch, e.Prov, owner,
				"cannot compare %s with %s", lt, rt)
			return nil
		}
		if ordering(e.Op) && !lt.Comparable() {
			c.errf(contracts.ErrTypeMismatch, e.Prov, owner,
				"type %s admits equality only, not %s", lt, e.Op)
			return nil
		}
		return &contracts.Type{Kind: contracts.TypeBool}
	case contracts.ExprAnd, contracts.ExprOr, contracts.ExprNot:
		for _, a := range e.Args {
			c.checkBool(a, owner, env)
		}
		return &contracts.Type{Kind: contracts.TypeBool}
	case contracts.ExprForAll, contracts.ExprExists:
		dt := c.infer(e.Domain, owner, env)
		if dt != nil && dt.Kind != contracts.TypeList {
			c.errf(contracts.ErrTypeMismatch, e.Prov, owner,
				"quantifier in %q iterates over %s, not a List", owner, dt)
			return &contracts.Type{Kind: contracts.TypeBool}
		}
		var elem *contracts.Type
		if dt != nil {
			elem = dt.Elem
		}
		c.checkBool(e.Body, owner, append(env, binding{name: e.Binder, typ: elem}))
		return &contracts.Type{Kind: contracts.TypeBool}
	default:
		return nil
	}
}

func (c *checker) inferField(e *contracts.Expr, owner string, env []binding) *contracts.Type {
	rt := c.infer(e.Recv, owner, env)
	if rt == nil {
		return nil
	}
	switch rt.Kind {
	case contracts.TypeRecord:
		ft, ok := rt.Fields[e.FieldName]
		if !ok {
			c.errf(contracts.ErrTypeMismatch, e.Prov, owner,
				"record has no field %q", e.FieldName)
			return nil
		}
		return ft
	case contracts.TypeTaggedUnion:
		// The field must exist, with one consistent type, in at least one
		// record variant; the variant check itself happens at evaluation.
		var found *contracts.Type
		for _, vt := range rt.Variants {
			if vt.Kind != contracts.TypeRecord {
				continue
			}
			if ft, ok := vt.Fields[e.FieldName]; ok {
				if found != nil && !found.Equal(ft) {
					c.errf(contracts.ErrTypeMismatch, e.Prov, owner,
						"field %q has conflicting types across variants", e.FieldName)
					return nil
				}
				found = ft
			}
		}
		if found == nil {
			c.errf(contracts.ErrTypeMismatch, e.Prov, owner,
				"no variant carries field %q", e.FieldName)
		}
		return found
	default:
		c.errf(contracts.ErrTypeMismatch, e.Prov, owner,
			"field access on %s", rt)
		return nil
	}
}

// coerceComparison adapts an ambiguous literal operand to the type on the
// other side of a comparison: integer literals against Decimal operands and
// quoted text against Enum operands.
func (c *checker) coerceComparison(e *contracts.Expr, t **contracts.Type, other *contracts.Type) {
	if e == nil || *t == nil || other == nil || e.Kind != contracts.ExprLiteral {
		return
	}
	v := e.Literal
	switch {
	case other.Kind == contracts.TypeDecimal && v.Kind == contracts.TypeInt:
		v.Kind = contracts.TypeDecimal
		v.Decimal = fmt.Sprintf("%d", v.Int)
		v.Int = 0
		*t = other
	case other.Kind == contracts.TypeEnum && v.Kind == contracts.TypeText:
		member := false
		for _, ev := range other.Values {
			if ev == v.Text {
				member = true
			}
		}
		if !member {
			c.errf(contracts.ErrTypeMismatch, e.Prov, "",
				"%q is not a value of enum(%s)", v.Text, strings.Join(other.Values, ", "))
			return
		}
		v.Kind = contracts.TypeEnum
		v.Enum = v.Text
		v.Text = ""
		*t = other
	}
}

func ordering(op contracts.CompareOp) bool {
	switch op {
	case contracts.OpLt, contracts.OpLe, contracts.OpGt, contracts.OpGe:
		return true
	default:
		return false
	}
}

func literalType(v *contracts.Value) *contracts.Type {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case contracts.TypeBool:
		return &contracts.Type{Kind: contracts.TypeBool}
	case contracts.TypeInt:
		return &contracts.Type{Kind: contracts.TypeInt}
	case contracts.TypeDecimal:
		scale := 0
		if i := strings.IndexByte(v.Decimal, '.'); i >= 0 {
			scale = len(v.Decimal) - i - 1
		}
		return &contracts.Type{Kind: contracts.TypeDecimal, Precision: 38, Scale: scale}
	case contracts.TypeMoney:
		return &contracts.Type{Kind: contracts.TypeMoney, Currency: v.Money.Currency}
	case contracts.TypeText:
		return &contracts.Type{Kind: contracts.TypeText}
	case contracts.TypeDate:
		return &contracts.Type{Kind: contracts.TypeDate}
	case contracts.TypeDateTime:
		return &contracts.Type{Kind: contracts.TypeDateTime}
	case contracts.TypeDuration:
		return &contracts.Type{Kind: contracts.TypeDuration}
	case contracts.TypeEnum:
		return &contracts.Type{Kind: contracts.TypeEnum, Values: []string{v.Enum}}
	default:
		return nil
	}
}
