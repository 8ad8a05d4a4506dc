package eval

import (
	"fmt"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/value"
)

// env is the evaluation context for one rule or one standalone predicate:
// the fact set, the lower-strata snapshot, quantifier bindings, and the
// provenance recorders.
type env struct {
	bundle   *contracts.Bundle
	facts    FactSet
	snapshot *Snapshot
	policy   FactAbsentPolicy
	ruleID   string

	binders      []binder
	factsRead    []string
	verdictsRead []string
	notes        []*Note
}

type binder struct {
	name string
	val  *contracts.Value
}

// EvalPredicate evaluates a standalone boolean expression — an operation
// precondition or a branch condition — against a frozen snapshot. The
// returned note slice carries any absent-fact or variant-mismatch
// provenance.
func EvalPredicate(b *contracts.Bundle, e *contracts.Expr, facts FactSet, snap *Snapshot, policy FactAbsentPolicy) (bool, []string, []string, []*Note, error) {
	env := &env{bundle: b, facts: facts, snapshot: snap, policy: policy}
	ok, err := env.evalBool(e)
	if err != nil {
		if verr, isTyped := err.(*value.Error); isTyped && verr.Kind == contracts.ErrFactAbsent {
			sev := contracts.SeverityInfo
			if policy == FactAbsentWarn {
				sev = contracts.SeverityWarning
			}
			env.notes = append(env.notes, &Note{
				Severity: sev, Kind: contracts.ErrFactAbsent, Message: verr.Message,
			})
			return false, env.factsRead, env.verdictsRead, env.notes, nil
		}
		return false, env.factsRead, env.verdictsRead, env.notes, err
	}
	return ok, env.factsRead, env.verdictsRead, env.notes, nil
}

// evalBool evaluates e as a predicate. A VariantMismatch anywhere in the
// subtree falsifies it with a note instead of erring: the containing
// predicate short-circuits to false.
func (v *env) evalBool(e *contracts.Expr) (bool, error) {
	out, err := v.eval(e)
	if err != nil {
		if verr, ok := err.(*value.Error); ok && verr.Kind == contracts.ErrVariantMismatch {
			v.notes = append(v.notes, &Note{
				Severity: contracts.SeverityInfo,
				Kind:     contracts.ErrVariantMismatch,
				RuleID:   v.ruleID,
				Message:  verr.Message,
			})
			return false, nil
		}
		return false, err
	}
	if out.Kind != contracts.TypeBool {
		return false, &value.Error{Kind: contracts.ErrPredicate,
			Message: fmt.Sprintf("predicate evaluated to %s, not Bool", out.Kind)}
	}
	return out.Bool, nil
}

// eval evaluates a value-producing expression.
func (v *env) eval(e *contracts.Expr) (*contracts.Value, error) {
	switch e.Kind {
	case contracts.ExprLiteral:
		if e.Literal == nil {
			return nil, &value.Error{Kind: contracts.ErrPredicate,
				Message: "literal node without a value"}
		}
		return e.Literal, nil

	case contracts.ExprFactRef:
		return v.fact(e.Ref)

	case contracts.ExprVar:
		for i := len(v.binders) - 1; i >= 0; i-- {
			if v.binders[i].name == e.Ref {
				return v.binders[i].val, nil
			}
		}
		return nil, &value.Error{Kind: contracts.ErrPredicate,
			Message: fmt.Sprintf("unbound variable %q", e.Ref)}

	case contracts.ExprField:
		recv, err := v.eval(e.Recv)
		if err != nil {
			return nil, err
		}
		return value.Field(recv, e.FieldName)

	case contracts.ExprVerdictPresent:
		v.verdictsRead = appendUnique(v.verdictsRead, e.VerdictType)
		return contracts.BoolValue(v.snapshot.Present(e.VerdictType)), nil

	case contracts.ExprCompare:
		return v.evalCompare(e)

	case contracts.ExprAnd:
		for _, a := range e.Args {
			ok, err := v.evalBool(a)
			if err != nil {
				return nil, err
			}
			if !ok {
				return contracts.BoolValue(false), nil
			}
		}
		return contracts.BoolValue(true), nil

	case contracts.ExprOr:
		for _, a := range e.Args {
			ok, err := v.evalBool(a)
			if err != nil {
				return nil, err
			}
			if ok {
				return contracts.BoolValue(true), nil
			}
		}
		return contracts.BoolValue(false), nil

	case contracts.ExprNot:
		ok, err := v.evalBool(e.Args[0])
		if err != nil {
			return nil, err
		}
		return contracts.BoolValue(!ok), nil

	case contracts.ExprForAll, contracts.ExprExists:
		return v.evalQuantifier(e)

	default:
		return nil, &value.Error{Kind: contracts.ErrPredicate,
			Message: fmt.Sprintf("unevaluable expression kind %q", e.Kind)}
	}
}

func (v *env) fact(id string) (*contracts.Value, error) {
	v.factsRead = appendUnique(v.factsRead, id)
	if stored, ok := v.facts[id]; ok && stored != nil {
		return stored, nil
	}
	if decl := v.bundle.Fact(id); decl != nil && decl.Default != nil {
		return decl.Default, nil
	}
	return nil, &value.Error{Kind: contracts.ErrFactAbsent,
		Message: fmt.Sprintf("fact %q is absent and declares no default", id)}
}

func (v *env) evalCompare(e *contracts.Expr) (*contracts.Value, error) {
	left, err := v.eval(e.Left)
	if err != nil {
		return nil, err
	}
	right, err := v.eval(e.Right)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case contracts.OpEq, contracts.OpNe:
		eq, err := value.Equal(left, right)
		if err != nil {
			return nil, err
		}
		if e.Op == contracts.OpNe {
			eq = !eq
		}
		return contracts.BoolValue(eq), nil
	default:
		c, err := value.Compare(left, right)
		if err != nil {
			return nil, err
		}
		var out bool
		switch e.Op {
		case contracts.OpLt:
			out = c < 0
		case contracts.OpLe:
			out = c <= 0
		case contracts.OpGt:
			out = c > 0
		case contracts.OpGe:
			out = c >= 0
		}
		return contracts.BoolValue(out), nil
	}
}

// evalQuantifier: ∀ short-circuits on the first false element, ∃ on the
// first true one. The domain must evaluate to a List.
func (v *env) evalQuantifier(e *contracts.Expr) (*contracts.Value, error) {
	domain, err := v.eval(e.Domain)
	if err != nil {
		return nil, err
	}
	if domain.Kind != contracts.TypeList {
		return nil, &value.Error{Kind: contracts.ErrPredicate,
			Message: fmt.Sprintf("quantifier domain is %s, not a List", domain.Kind)}
	}
	forAll := e.Kind == contracts.ExprForAll
	for _, elem := range domain.List {
		v.binders = append(v.binders, binder{name: e.Binder, val: elem})
		ok, err := v.evalBool(e.Body)
		v.binders = v.binders[:len(v.binders)-1]
		if err != nil {
			return nil, err
		}
		if forAll && !ok {
			return contracts.BoolValue(false), nil
		}
		if !forAll && ok {
			return contracts.BoolValue(true), nil
		}
	}
	return contracts.BoolValue(forAll), nil
}

func appendUnique(xs []string, s string) []string {
	for _, x := range xs {
		if x == s {
			return xs
		}
	}
	return append(xs, s)
}
