package elaborate

import (
	"fmt"
	"sort"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/parser"
)

// errorContract is the closed set of error kinds an operation may declare.
var errorContract = map[string]bool{
	contracts.FailPreconditionFailed:  true,
	contracts.FailPersonaRejected:     true,
	contracts.FailEntityStateMismatch: true,
	contracts.FailTimeout:             true,
	contracts.FailCancelled:           true,
}

// passWellformedness validates entity state machines, operation effects,
// and flow step graphs.
func passWellformedness(u *unit) contracts.ElaborationErrors {
	w := &wellformed{u: u}
	for _, ent := range u.entities {
		w.checkEntity(ent)
	}
	for _, op := range u.operations {
		w.checkOperation(op)
	}
	for _, fl := range u.flows {
		w.checkFlow(fl)
	}
	w.checkSubFlowAcyclicity()
	return w.errs
}

type wellformed struct {
	u    *unit
	errs contracts.ElaborationErrors
}

func (w *wellformed) errf(kind contracts.ErrKind, prov contracts.Provenance, id, format string, args ...any) {
	w.errs = append(w.errs, &contracts.ElaborationError{
		Kind: kind, Message: fmt.Sprintf(format, args...), ConstructID: id, Prov: prov,
	})
}

func (w *wellformed) checkEntity(ent *parser.EntityDecl) {
	declared := map[string]bool{}
	for _, s := range ent.States {
		if declared[s] {
			w.errf(contracts.ErrDuplicateID, ent.Prov, ent.ID,
				"entity %q declares state %q twice", ent.ID, s)
		}
		declared[s] = true
	}
	if !declared[ent.Initial] {
		w.errf(contracts.ErrInvalidTransition, ent.Prov, ent.ID,
			"entity %q initial state %q is not in its state set", ent.ID, ent.Initial)
		return
	}
	for _, tr := range ent.Transitions {
		for _, endpoint := range []string{tr.From, tr.To} {
			if !declared[endpoint] {
				w.errf(contracts.ErrInvalidTransition, ent.Prov, ent.ID,
					"entity %q transition %s->%s references undeclared state %q",
					ent.ID, tr.From, tr.To, endpoint)
			}
		}
	}

	// The reachable-state closure from initial must cover the state set.
	reachable := map[string]bool{ent.Initial: true}
	for changed := true; changed; {
		changed = false
		for _, tr := range ent.Transitions {
			if reachable[tr.From] && !reachable[tr.To] {
				reachable[tr.To] = true
				changed = true
			}
		}
	}
	var unreachable []string
	for _, s := range ent.States {
		if !reachable[s] {
			unreachable = append(unreachable, s)
		}
	}
	sort.Strings(unreachable)
	for _, s := range unreachable {
		w.errf(contracts.ErrUnreachableState, ent.Prov, ent.ID,
			"entity %q state %q is unreachable from initial state %q", ent.ID, s, ent.Initial)
	}
}

func (w *wellformed) checkOperation(op *parser.OperationDecl) {
	for _, eff := range op.Effects {
		ent := w.u.entitiesByID[eff.Entity]
		if ent == nil {
			continue // pass 3 reported it
		}
		if !hasTransition(ent, eff.From, eff.To) {
			w.errf(contracts.ErrInvalidTransition, op.Prov, op.ID,
				"operation %q effect %s->%s is not a declared transition of entity %q",
				op.ID, eff.From, eff.To, eff.Entity)
		}
		if eff.Outcome != "" && len(op.Outcomes) > 0 && !containsString(op.Outcomes, eff.Outcome) {
			w.errf(contracts.ErrUnresolvedReference, op.Prov, op.ID,
				"operation %q effect outcome %q is not a declared outcome", op.ID, eff.Outcome)
		}
	}
	for _, ek := range op.ErrorContract {
		if !errorContract[ek] {
			w.errf(contracts.ErrUnresolvedReference, op.Prov, op.ID,
				"operation %q declares unknown error kind %q", op.ID, ek)
		}
	}
}

// checkFlow validates one step graph: targets resolve, every path reaches a
// terminal, routing (including failure-handler routing) is acyclic, every
// step is reachable from the entry, and sibling parallel branches touch
// disjoint entity sets.
func (w *wellformed) checkFlow(fl *parser.FlowDecl) {
	w.checkGraph(fl.ID, fl.Entry, fl.Steps, fl.Prov)

	var walk func(steps map[string]*contracts.Step)
	walk = func(steps map[string]*contracts.Step) {
		for _, id := range sortedStepIDs(steps) {
			s := steps[id]
			if s.Kind != contracts.StepParallel {
				continue
			}
			for _, br := range s.Branches {
				w.checkGraph(fmt.Sprintf("%s/%s/%s", fl.ID, s.ID, br.ID), br.Entry, br.Steps, s.Prov)
				walk(br.Steps)
			}
			w.checkParallelDisjointness(fl.ID, s)
		}
	}
	walk(fl.Steps)
}

func (w *wellformed) checkGraph(owner, entry string, steps map[string]*contracts.Step, prov contracts.Provenance) {
	if _, ok := steps[entry]; !ok {
		w.errf(contracts.ErrFlowDeadEnd, prov, owner,
			"flow %q entry step %q does not exist", owner, entry)
		return
	}

	// Resolve every routing target, success and failure alike.
	for _, id := range sortedStepIDs(steps) {
		s := steps[id]
		targets := append(s.Targets(), s.HandlerTargets()...)
		for _, t := range targets {
			if t.IsZero() {
				w.errf(contracts.ErrFlowDeadEnd, s.Prov, s.ID,
					"step %q in flow %q has an unrouted exit", s.ID, owner)
				continue
			}
			if t.Step != "" {
				if _, ok := steps[t.Step]; !ok {
					w.errf(contracts.ErrUnresolvedReference, s.Prov, s.ID,
						"step %q routes to undeclared step %q", s.ID, t.Step)
				}
			}
		}
		if s.Kind == contracts.StepOperation && len(s.Outcomes) == 0 {
			w.errf(contracts.ErrFlowDeadEnd, s.Prov, s.ID,
				"operation step %q routes no outcomes", s.ID)
		}
	}

	// Cycle detection over all routing edges. Failure-handler edges count:
	// a handler may target an earlier step only when no cycle results.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(id string) bool
	visit = func(id string) bool {
		s, ok := steps[id]
		if !ok {
			return false
		}
		switch color[id] {
		case grey:
			w.errf(contracts.ErrFlowCycle, s.Prov, id,
				"flow %q contains a routing cycle through step %q", owner, id)
			return true
		case black:
			return false
		}
		color[id] = grey
		for _, t := range append(s.Targets(), s.HandlerTargets()...) {
			if t.Step != "" {
				if visit(t.Step) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	if visit(entry) {
		return
	}

	// Every step must be reachable from the entry.
	for _, id := range sortedStepIDs(steps) {
		if color[id] == white {
			w.errf(contracts.ErrFlowDeadEnd, steps[id].Prov, id,
				"step %q in flow %q is unreachable from the entry", id, owner)
		}
	}
}

func (w *wellformed) checkParallelDisjointness(flowID string, s *contracts.Step) {
	entitySets := make([]map[string]bool, len(s.Branches))
	for i, br := range s.Branches {
		entitySets[i] = w.branchEntities(br.Steps)
	}
	for i := range s.Branches {
		for j := i + 1; j < len(s.Branches); j++ {
			var overlap []string
			for ent := range entitySets[i] {
				if entitySets[j][ent] {
					overlap = append(overlap, ent)
				}
			}
			sort.Strings(overlap)
			for _, ent := range overlap {
				w.errf(contracts.ErrParallelBranchConflict, s.Prov, s.ID,
					"parallel step %q in flow %q: branches %q and %q both affect entity %q",
					s.ID, flowID, s.Branches[i].ID, s.Branches[j].ID, ent)
			}
		}
	}
}

// branchEntities collects the entity ids affected by operation effects
// anywhere in a branch, including compensation steps and nested parallels.
func (w *wellformed) branchEntities(steps map[string]*contracts.Step) map[string]bool {
	out := map[string]bool{}
	addOp := func(opID string) {
		if op := w.u.opsByID[opID]; op != nil {
			for _, eff := range op.Effects {
				out[eff.Entity] = true
			}
		}
	}
	var walk func(steps map[string]*contracts.Step)
	walk = func(steps map[string]*contracts.Step) {
		for _, s := range steps {
			switch s.Kind {
			case contracts.StepOperation:
				addOp(s.Op)
				if s.OnFailure != nil {
					for _, cs := range s.OnFailure.Steps {
						addOp(cs.Op)
					}
				}
			case contracts.StepSubFlow:
				if sub := w.u.flowsByID[s.SubFlow]; sub != nil {
					walk(sub.Steps)
				}
			case contracts.StepParallel:
				for _, br := range s.Branches {
					walk(br.Steps)
				}
			}
		}
	}
	walk(steps)
	return out
}

// checkSubFlowAcyclicity rejects flows that invoke themselves through
// sub-flow steps.
func (w *wellformed) checkSubFlowAcyclicity() {
	refs := map[string][]string{}
	for _, fl := range w.u.flows {
		var collect func(steps map[string]*contracts.Step)
		collect = func(steps map[string]*contracts.Step) {
			for _, s := range steps {
				switch s.Kind {
				case contracts.StepSubFlow:
					refs[fl.ID] = append(refs[fl.ID], s.SubFlow)
				case contracts.StepParallel:
					for _, br := range s.Branches {
						collect(br.Steps)
					}
				}
			}
		}
		collect(fl.Steps)
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(id string) bool
	visit = func(id string) bool {
		switch color[id] {
		case grey:
			return true
		case black:
			return false
		}
		color[id] = grey
		sort.Strings(refs[id])
		for _, sub := range refs[id] {
			if visit(sub) {
				if fl := w.u.flowsByID[id]; fl != nil {
					w.errf(contracts.ErrFlowCycle, fl.Prov, id,
						"flow %q participates in a sub-flow cycle via %q", id, sub)
				}
				color[id] = black
				return false
			}
		}
		color[id] = black
		return false
	}
	for _, fl := range w.u.flows {
		visit(fl.ID)
	}
}

func hasTransition(ent *parser.EntityDecl, from, to string) bool {
	for _, tr := range ent.Transitions {
		if tr.From == from && tr.To == to {
			return true
		}
	}
	return false
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
