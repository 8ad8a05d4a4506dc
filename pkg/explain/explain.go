// Package explain re-emits an elaborated bundle as a deterministic,
// human-readable summary. Output is structured plain text — sections of
// lines — with no styling; rendering niceties belong to the callers.
package explain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/riverline-labs/tenor/core/pkg/canonicalize"
	"github.com/riverline-labs/tenor/core/pkg/contracts"
)

// Section is one titled block of the summary.
type Section struct {
	Title string   `json:"title"`
	Lines []string `json:"lines"`
}

// Summary is the rendered bundle.
type Summary struct {
	ContractID string    `json:"contract_id"`
	Etag       string    `json:"etag"`
	Sections   []Section `json:"sections"`
}

// String renders the summary as plain text.
func (s *Summary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "contract %s (etag %s)\n", s.ContractID, s.Etag)
	for _, sec := range s.Sections {
		fmt.Fprintf(&sb, "\n%s\n", sec.Title)
		for _, line := range sec.Lines {
			fmt.Fprintf(&sb, "  %s\n", line)
		}
	}
	return sb.String()
}

// Bundle summarizes b: constructs grouped by kind, entities as transition
// lists, rules by stratum, flows as step graphs, systems as trigger chains.
func Bundle(b *contracts.Bundle) (*Summary, error) {
	etag, err := canonicalize.Etag(b)
	if err != nil {
		return nil, err
	}
	s := &Summary{ContractID: b.ContractID, Etag: etag}

	if facts := b.Facts(); len(facts) > 0 {
		sec := Section{Title: "facts"}
		for _, f := range facts {
			line := fmt.Sprintf("%s: %s", f.ID, f.Type)
			if f.Default != nil {
				line += " = " + f.Default.String()
			}
			sec.Lines = append(sec.Lines, line)
		}
		s.Sections = append(s.Sections, sec)
	}

	if personas := b.Personas(); len(personas) > 0 {
		sec := Section{Title: "personas"}
		for _, p := range personas {
			sec.Lines = append(sec.Lines, p.ID)
		}
		s.Sections = append(s.Sections, sec)
	}

	if entities := b.Entities(); len(entities) > 0 {
		sec := Section{Title: "entities"}
		for _, e := range entities {
			sec.Lines = append(sec.Lines,
				fmt.Sprintf("%s: states [%s], initial %s", e.ID, strings.Join(e.States, ", "), e.Initial))
			for _, tr := range e.Transitions {
				sec.Lines = append(sec.Lines, fmt.Sprintf("  %s -> %s", tr.From, tr.To))
			}
		}
		s.Sections = append(s.Sections, sec)
	}

	if rules := b.Rules(); len(rules) > 0 {
		sec := Section{Title: "rules"}
		sorted := append([]*contracts.Rule(nil), rules...)
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].Stratum != sorted[j].Stratum {
				return sorted[i].Stratum < sorted[j].Stratum
			}
			return sorted[i].ID < sorted[j].ID
		})
		for _, r := range sorted {
			line := fmt.Sprintf("@%d %s: when %s produce %s", r.Stratum, r.ID, Predicate(r.When), r.Produce.VerdictType)
			sec.Lines = append(sec.Lines, line)
		}
		s.Sections = append(s.Sections, sec)
	}

	if ops := b.Operations(); len(ops) > 0 {
		sec := Section{Title: "operations"}
		for _, op := range ops {
			sec.Lines = append(sec.Lines,
				fmt.Sprintf("%s: personas [%s]", op.ID, strings.Join(op.AllowedPersonas, ", ")))
			if op.Precondition != nil {
				sec.Lines = append(sec.Lines, "  precondition "+Predicate(op.Precondition))
			}
			for _, eff := range op.Effects {
				line := fmt.Sprintf("  effect %s: %s -> %s", eff.Entity, eff.From, eff.To)
				if eff.Outcome != "" {
					line += " (" + eff.Outcome + ")"
				}
				sec.Lines = append(sec.Lines, line)
			}
		}
		s.Sections = append(s.Sections, sec)
	}

	if flows := b.Flows(); len(flows) > 0 {
		sec := Section{Title: "flows"}
		for _, fl := range flows {
			sec.Lines = append(sec.Lines, fmt.Sprintf("%s: entry %s", fl.ID, fl.Entry))
			ids := make([]string, 0, len(fl.Steps))
			for id := range fl.Steps {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				sec.Lines = append(sec.Lines, "  "+stepLine(fl.Steps[id]))
			}
		}
		s.Sections = append(s.Sections, sec)
	}

	if systems := b.Systems(); len(systems) > 0 {
		sec := Section{Title: "systems"}
		for _, sys := range systems {
			sec.Lines = append(sec.Lines,
				fmt.Sprintf("%s: members [%s]", sys.ID, strings.Join(sys.Members, ", ")))
			for _, tr := range sys.Triggers {
				sec.Lines = append(sec.Lines, fmt.Sprintf("  %s.%s --[%s]--> %s.%s by %s",
					tr.FromContract, tr.FromFlow, tr.Outcome, tr.ToContract, tr.ToFlow, tr.Persona))
			}
		}
		s.Sections = append(s.Sections, sec)
	}
	return s, nil
}

func stepLine(s *contracts.Step) string {
	switch s.Kind {
	case contracts.StepOperation:
		outs := make([]string, 0, len(s.Outcomes))
		for o := range s.Outcomes {
			outs = append(outs, o)
		}
		sort.Strings(outs)
		parts := make([]string, 0, len(outs))
		for _, o := range outs {
			parts = append(parts, o+" -> "+targetText(s.Outcomes[o]))
		}
		return fmt.Sprintf("%s: operation %s by %s {%s}", s.ID, s.Op, s.Persona, strings.Join(parts, ", "))
	case contracts.StepBranch:
		return fmt.Sprintf("%s: branch %s ? %s : %s", s.ID, Predicate(s.Condition),
			targetText(s.IfTrue), targetText(s.IfFalse))
	case contracts.StepHandoff:
		return fmt.Sprintf("%s: handoff %s -> %s, then %s", s.ID, s.FromPersona, s.ToPersona, targetText(s.Next))
	case contracts.StepSubFlow:
		return fmt.Sprintf("%s: subflow %s, success -> %s", s.ID, s.SubFlow, targetText(s.OnSuccess))
	case contracts.StepParallel:
		names := make([]string, 0, len(s.Branches))
		for _, br := range s.Branches {
			names = append(names, br.ID)
		}
		return fmt.Sprintf("%s: parallel [%s]", s.ID, strings.Join(names, ", "))
	default:
		return s.ID
	}
}

func targetText(t contracts.Target) string {
	if t.IsTerminal() {
		return "end(" + t.Terminal + ")"
	}
	return t.Step
}

var opText = map[contracts.CompareOp]string{
	contracts.OpEq: "=", contracts.OpNe: "≠",
	contracts.OpLt: "<", contracts.OpLe: "≤",
	contracts.OpGt: ">", contracts.OpGe: "≥",
}

// Predicate renders an expression in source-like notation.
func Predicate(e *contracts.Expr) string {
	if e == nil {
		return "true"
	}
	switch e.Kind {
	case contracts.ExprLiteral:
		return e.Literal.String()
	case contracts.ExprFactRef, contracts.ExprVar, contracts.ExprIdent:
		return e.Ref
	case contracts.ExprField:
		return Predicate(e.Recv) + "." + e.FieldName
	case contracts.ExprVerdictPresent:
		return "verdict_present(" + e.VerdictType + ")"
	case contracts.ExprCompare:
		return fmt.Sprintf("%s %s %s", Predicate(e.Left), opText[e.Op], Predicate(e.Right))
	case contracts.ExprAnd, contracts.ExprOr:
		sep := " ∧ "
		if e.Kind == contracts.ExprOr {
			sep = " ∨ "
		}
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			parts[i] = Predicate(a)
		}
		return "(" + strings.Join(parts, sep) + ")"
	case contracts.ExprNot:
		return "¬" + Predicate(e.Args[0])
	case contracts.ExprForAll:
		return fmt.Sprintf("∀ %s ∈ %s . %s", e.Binder, Predicate(e.Domain), Predicate(e.Body))
	case contracts.ExprExists:
		return fmt.Sprintf("∃ %s ∈ %s . %s", e.Binder, Predicate(e.Domain), Predicate(e.Body))
	default:
		return string(e.Kind)
	}
}
