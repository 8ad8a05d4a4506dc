package elaborate

import (
	"fmt"
	"sort"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/parser"
)

// passReferenceResolution resolves every identifier to a declared construct.
// Unresolved identifiers inside predicates become fact references or
// quantifier-bound variables; everything else (personas, entities, states,
// operations, sub-flows, verdict types) is checked against the merged
// declarations.
func passReferenceResolution(u *unit) contracts.ElaborationErrors {
	r := &refResolver{u: u}

	producers := map[string]bool{}
	for _, rl := range u.rules {
		producers[rl.VerdictType] = true
	}
	r.producers = producers

	for _, rl := range u.rules {
		r.resolveExpr(rl.When, rl.ID, nil)
		r.resolveExpr(rl.Payload, rl.ID, nil)
	}
	for _, op := range u.operations {
		r.resolveExpr(op.Precondition, op.ID, nil)
		for _, persona := range op.AllowedPersonas {
			r.checkPersona(persona, op.ID, op.Prov)
		}
		for _, eff := range op.Effects {
			ent := u.entitiesByID[eff.Entity]
			if ent == nil {
				r.errf(contracts.ErrUnresolvedReference, op.Prov, op.ID,
					"operation %q effect references undeclared entity %q", op.ID, eff.Entity)
				continue
			}
			for _, state := range []string{eff.From, eff.To} {
				if !hasState(ent, state) {
					r.errf(contracts.ErrUnresolvedReference, op.Prov, op.ID,
						"operation %q effect references state %q not declared on entity %q",
						op.ID, state, eff.Entity)
				}
			}
		}
	}
	for _, ent := range u.entities {
		if ent.InstanceKey != "" && u.factsByID[ent.InstanceKey] == nil {
			r.errf(contracts.ErrUnresolvedReference, ent.Prov, ent.ID,
				"entity %q instance_key references undeclared fact %q", ent.ID, ent.InstanceKey)
		}
	}
	for _, fl := range u.flows {
		for _, id := range sortedStepIDs(fl.Steps) {
			r.resolveStep(fl, fl.Steps[id])
		}
	}
	for _, sys := range u.systems {
		for _, tr := range sys.Triggers {
			if tr.FromContract == u.contractID && u.flowsByID[tr.FromFlow] == nil {
				r.errf(contracts.ErrUnresolvedReference, sys.Prov, sys.ID,
					"system %q trigger references undeclared flow %q", sys.ID, tr.FromFlow)
			}
			if tr.ToContract == u.contractID && u.flowsByID[tr.ToFlow] == nil {
				r.errf(contracts.ErrUnresolvedReference, sys.Prov, sys.ID,
					"system %q trigger references undeclared flow %q", sys.ID, tr.ToFlow)
			}
		}
	}
	return r.errs
}

type refResolver struct {
	u         *unit
	producers map[string]bool
	errs      contracts.ElaborationErrors
}

func (r *refResolver) errf(kind contracts.ErrKind, prov contracts.Provenance, id, format string, args ...any) {
	r.errs = append(r.errs, &contracts.ElaborationError{
		Kind: kind, Message: fmt.Sprintf(format, args...), ConstructID: id, Prov: prov,
	})
}

func (r *refResolver) checkPersona(persona, owner string, prov contracts.Provenance) {
	if !r.u.personaSet[persona] {
		r.errf(contracts.ErrUnresolvedReference, prov, owner,
			"%q references undeclared persona %q", owner, persona)
	}
}

// resolveExpr rewrites ident leaves in place. bound is the stack of
// quantifier binders in scope.
func (r *refResolver) resolveExpr(e *contracts.Expr, owner string, bound []string) {
	if e == nil {
		return
	}
	switch e.Kind {
	case contracts.ExprIdent:
		for _, b := range bound {
			if b == e.Ref {
				e.Kind = contracts.ExprVar
				return
			}
		}
		if r.u.factsByID[e.Ref] != nil {
			e.Kind = contracts.ExprFactRef
			return
		}
		r.errf(contracts.ErrUnresolvedReference, e.Prov, owner,
			"%q references undeclared fact %q", owner, e.Ref)
	case contracts.ExprVerdictPresent:
		if !r.producers[e.VerdictType] {
			r.errf(contracts.ErrUnresolvedReference, e.Prov, owner,
				"%q checks verdict %q which no rule produces", owner, e.VerdictType)
		}
	case contracts.ExprField:
		r.resolveExpr(e.Recv, owner, bound)
	case contracts.ExprCompare:
		r.resolveExpr(e.Left, owner, bound)
		r.resolveExpr(e.Right, owner, bound)
	case contracts.ExprAnd, contracts.ExprOr, contracts.ExprNot:
		for _, a := range e.Args {
			r.resolveExpr(a, owner, bound)
		}
	case contracts.ExprForAll, contracts.ExprExists:
		r.resolveExpr(e.Domain, owner, bound)
		r.resolveExpr(e.Body, owner, append(bound, e.Binder))
	}
}

func (r *refResolver) resolveStep(fl *parser.FlowDecl, s *contracts.Step) {
	switch s.Kind {
	case contracts.StepOperation:
		if r.u.opsByID[s.Op] == nil {
			r.errf(contracts.ErrUnresolvedReference, s.Prov, s.ID,
				"step %q invokes undeclared operation %q", s.ID, s.Op)
		}
		r.checkPersona(s.Persona, s.ID, s.Prov)
		r.resolveHandler(s.OnFailure, s)
	case contracts.StepBranch:
		r.resolveExpr(s.Condition, s.ID, nil)
		r.checkPersona(s.Persona, s.ID, s.Prov)
	case contracts.StepHandoff:
		r.checkPersona(s.FromPersona, s.ID, s.Prov)
		r.checkPersona(s.ToPersona, s.ID, s.Prov)
	case contracts.StepSubFlow:
		if r.u.flowsByID[s.SubFlow] == nil {
			r.errf(contracts.ErrUnresolvedReference, s.Prov, s.ID,
				"step %q invokes undeclared sub-flow %q", s.ID, s.SubFlow)
		}
		r.checkPersona(s.Persona, s.ID, s.Prov)
		r.resolveHandler(s.OnFailure, s)
	case contracts.StepParallel:
		for _, br := range s.Branches {
			for _, id := range sortedStepIDs(br.Steps) {
				r.resolveStep(fl, br.Steps[id])
			}
		}
		if s.Join != nil {
			r.resolveHandler(s.Join.OnAnyFailure, s)
		}
	}
}

func (r *refResolver) resolveHandler(h *contracts.Handler, s *contracts.Step) {
	if h == nil {
		return
	}
	switch h.Kind {
	case contracts.HandlerCompensate:
		for _, cs := range h.Steps {
			if r.u.opsByID[cs.Op] == nil {
				r.errf(contracts.ErrUnresolvedReference, s.Prov, s.ID,
					"compensation in step %q invokes undeclared operation %q", s.ID, cs.Op)
			}
			r.checkPersona(cs.Persona, s.ID, s.Prov)
		}
	case contracts.HandlerEscalate:
		r.checkPersona(h.ToPersona, s.ID, s.Prov)
	}
}

func hasState(ent *parser.EntityDecl, s string) bool {
	for _, st := range ent.States {
		if st == s {
			return true
		}
	}
	return false
}

func sortedStepIDs(steps map[string]*contracts.Step) []string {
	ids := make([]string, 0, len(steps))
	for id := range steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
