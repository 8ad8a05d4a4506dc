// Package celbridge compiles the comparison/boolean fragment of the
// predicate language to CEL programs and cross-evaluates them against the
// interpreter. It exists as a differential harness: two independent
// evaluations of the same predicate must agree, or one of them is wrong.
//
// Quantifiers, verdict references, and the fixed-point numeric types fall
// outside the CEL fragment and are reported as untranslatable rather than
// approximated.
package celbridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/eval"
)

// ErrUntranslatable marks predicates outside the CEL fragment.
var ErrUntranslatable = errors.New("celbridge: predicate outside the CEL fragment")

// Bridge holds a CEL environment with one variable per translatable fact.
type Bridge struct {
	bundle *contracts.Bundle
	env    *cel.Env
}

// New builds a bridge for the bundle's Int, Bool, Text, and Enum facts;
// Enum facts are declared to CEL as strings.
func New(b *contracts.Bundle) (*Bridge, error) {
	var opts []cel.EnvOption
	for _, f := range b.Facts() {
		switch f.Type.Kind {
		case contracts.TypeInt:
			opts = append(opts, cel.Variable(f.ID, cel.IntType))
		case contracts.TypeBool:
			opts = append(opts, cel.Variable(f.ID, cel.BoolType))
		case contracts.TypeText, contracts.TypeEnum:
			opts = append(opts, cel.Variable(f.ID, cel.StringType))
		}
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("celbridge: env: %w", err)
	}
	return &Bridge{bundle: b, env: env}, nil
}

// Translate renders e as CEL source.
func (br *Bridge) Translate(e *contracts.Expr) (string, error) {
	var sb strings.Builder
	if err := br.write(&sb, e); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (br *Bridge) write(sb *strings.Builder, e *contracts.Expr) error {
	switch e.Kind {
	case contracts.ExprLiteral:
		return writeLiteral(sb, e.Literal)
	case contracts.ExprFactRef:
		f := br.bundle.Fact(e.Ref)
		if f == nil {
			return ErrUntranslatable
		}
		switch f.Type.Kind {
		case contracts.TypeInt, contracts.TypeBool, contracts.TypeText, contracts.TypeEnum:
			sb.WriteString(e.Ref)
			return nil
		default:
			return ErrUntranslatable
		}
	case contracts.ExprCompare:
		op, ok := celOps[e.Op]
		if !ok {
			return ErrUntranslatable
		}
		sb.WriteString("(")
		if err := br.write(sb, e.Left); err != nil {
			return err
		}
		sb.WriteString(" " + op + " ")
		if err := br.write(sb, e.Right); err != nil {
			return err
		}
		sb.WriteString(")")
		return nil
	case contracts.ExprAnd, contracts.ExprOr:
		op := " && "
		if e.Kind == contracts.ExprOr {
			op = " || "
		}
		sb.WriteString("(")
		for i, a := range e.Args {
			if i > 0 {
				sb.WriteString(op)
			}
			if err := br.write(sb, a); err != nil {
				return err
			}
		}
		sb.WriteString(")")
		return nil
	case contracts.ExprNot:
		sb.WriteString("!(")
		if err := br.write(sb, e.Args[0]); err != nil {
			return err
		}
		sb.WriteString(")")
		return nil
	default:
		return ErrUntranslatable
	}
}

var celOps = map[contracts.CompareOp]string{
	contracts.OpEq: "==", contracts.OpNe: "!=",
	contracts.OpLt: "<", contracts.OpLe: "<=",
	contracts.OpGt: ">", contracts.OpGe: ">=",
}

func writeLiteral(sb *strings.Builder, v *contracts.Value) error {
	switch v.Kind {
	case contracts.TypeBool:
		fmt.Fprintf(sb, "%t", v.Bool)
	case contracts.TypeInt:
		fmt.Fprintf(sb, "%d", v.Int)
	case contracts.TypeText:
		fmt.Fprintf(sb, "%q", v.Text)
	case contracts.TypeEnum:
		fmt.Fprintf(sb, "%q", v.Enum)
	default:
		return ErrUntranslatable
	}
	return nil
}

// EvalCEL compiles and evaluates CEL source against a fact set.
func (br *Bridge) EvalCEL(src string, facts eval.FactSet) (bool, error) {
	ast, issues := br.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("celbridge: compile: %w", issues.Err())
	}
	prg, err := br.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("celbridge: program: %w", err)
	}
	activation := map[string]any{}
	for _, f := range br.bundle.Facts() {
		v, ok := facts[f.ID]
		if !ok {
			v = f.Default
		}
		if v == nil {
			continue
		}
		switch v.Kind {
		case contracts.TypeInt:
			activation[f.ID] = v.Int
		case contracts.TypeBool:
			activation[f.ID] = v.Bool
		case contracts.TypeText:
			activation[f.ID] = v.Text
		case contracts.TypeEnum:
			activation[f.ID] = v.Enum
		}
	}
	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("celbridge: eval: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("celbridge: expression is not boolean")
	}
	return b, nil
}

// CrossCheck evaluates e through the interpreter and through CEL and
// reports disagreement as an error. Untranslatable predicates return
// ErrUntranslatable.
func (br *Bridge) CrossCheck(e *contracts.Expr, facts eval.FactSet) (bool, error) {
	src, err := br.Translate(e)
	if err != nil {
		return false, err
	}
	celResult, err := br.EvalCEL(src, facts)
	if err != nil {
		return false, err
	}
	interpResult, _, _, _, err := eval.EvalPredicate(br.bundle, e, facts, emptySnapshot(), eval.FactAbsentAsFalse)
	if err != nil {
		return false, err
	}
	if celResult != interpResult {
		return false, fmt.Errorf("celbridge: divergence on %q: cel=%t interpreter=%t", src, celResult, interpResult)
	}
	return interpResult, nil
}

// emptySnapshot suffices because translatable predicates contain no
// verdict references.
func emptySnapshot() *eval.Snapshot {
	return &eval.Snapshot{}
}
