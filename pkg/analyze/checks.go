package analyze

import (
	"fmt"
	"sort"
	"strings"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
)

// stateEnumeration (s1): each entity's state set is finite and fully
// enumerated; report the count.
type stateEnumeration struct{}

func (stateEnumeration) ID() string { return "s1" }

func (stateEnumeration) Run(a *Analysis) {
	for _, ent := range a.Bundle.Entities() {
		a.Report(contracts.SeverityInfo, ent.ID, ent.Prov,
			fmt.Sprintf("entity %q enumerates %d states", ent.ID, len(ent.States)))
	}
}

// stateReachability (s2): every state reachable from the initial state.
// The elaborator enforces this; the analyzer re-derives it so decoded
// bundles from other producers get the same scrutiny.
type stateReachability struct{}

func (stateReachability) ID() string { return "s2" }

func (stateReachability) Run(a *Analysis) {
	for _, ent := range a.Bundle.Entities() {
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
		for _, s := range ent.States {
			if !reachable[s] {
				a.Report(contracts.SeverityError, ent.ID, ent.Prov,
					fmt.Sprintf("entity %q state %q is unreachable from %q", ent.ID, s, ent.Initial))
			}
		}
	}
}

// transitionEndpoints (s3): every declared transition has endpoints in the
// state set.
type transitionEndpoints struct{}

func (transitionEndpoints) ID() string { return "s3" }

func (transitionEndpoints) Run(a *Analysis) {
	for _, ent := range a.Bundle.Entities() {
		for _, tr := range ent.Transitions {
			for _, endpoint := range []string{tr.From, tr.To} {
				if !ent.HasState(endpoint) {
					a.Report(contracts.SeverityError, ent.ID, ent.Prov,
						fmt.Sprintf("entity %q transition %s->%s references undeclared state %q",
							ent.ID, tr.From, tr.To, endpoint))
				}
			}
		}
	}
}

// authorityTopology (s4): the persona × operation authority matrix.
type authorityTopology struct{}

func (authorityTopology) ID() string { return "s4" }

func (authorityTopology) Run(a *Analysis) {
	for _, p := range a.Bundle.Personas() {
		var allowed, denied []string
		for _, op := range a.Bundle.Operations() {
			if op.AllowsPersona(p.ID) {
				allowed = append(allowed, op.ID)
			} else {
				denied = append(denied, op.ID)
			}
		}
		a.Report(contracts.SeverityInfo, p.ID, p.Prov,
			fmt.Sprintf("persona %q may invoke [%s], may not invoke [%s]",
				p.ID, strings.Join(allowed, ", "), strings.Join(denied, ", ")))
	}
}

// verdictUniqueness (s5): each verdict type has exactly one producer.
type verdictUniqueness struct{}

func (verdictUniqueness) ID() string { return "s5" }

func (verdictUniqueness) Run(a *Analysis) {
	producers := map[string][]string{}
	for _, r := range a.Bundle.Rules() {
		producers[r.Produce.VerdictType] = append(producers[r.Produce.VerdictType], r.ID)
	}
	types := make([]string, 0, len(producers))
	for vt := range producers {
		types = append(types, vt)
	}
	sort.Strings(types)
	for _, vt := range types {
		if rules := producers[vt]; len(rules) > 1 {
			a.Report(contracts.SeverityError, vt, contracts.Provenance{},
				fmt.Sprintf("verdict %q is produced by %d rules: %s",
					vt, len(rules), strings.Join(rules, ", ")))
		}
	}
}

// flowPaths (s6): count distinct success paths from entry to a terminal and
// flag steps unreachable along success routing. Steps reachable only
// through failure handlers are reported as residual noise, not silence.
type flowPaths struct{}

func (flowPaths) ID() string { return "s6" }

func (flowPaths) Run(a *Analysis) {
	for _, fl := range a.Bundle.Flows() {
		count := countPaths(fl.Entry, fl.Steps, map[string]bool{})
		a.Report(contracts.SeverityInfo, fl.ID, fl.Prov,
			fmt.Sprintf("flow %q has %d distinct success paths from entry to terminal", fl.ID, count))

		successReach := map[string]bool{}
		markReachable(fl.Entry, fl.Steps, successReach, false)
		allReach := map[string]bool{}
		markReachable(fl.Entry, fl.Steps, allReach, true)

		for _, s := range sortedFlowSteps(fl.Steps) {
			if successReach[s.ID] {
				continue
			}
			if allReach[s.ID] {
				a.Report(contracts.SeverityWarning, s.ID, s.Prov,
					fmt.Sprintf("step %q in flow %q is reachable only through failure handling", s.ID, fl.ID))
			} else {
				a.Report(contracts.SeverityWarning, s.ID, s.Prov,
					fmt.Sprintf("step %q in flow %q is unreachable from the entry", s.ID, fl.ID))
			}
		}
	}
}

func countPaths(id string, steps map[string]*contracts.Step, visiting map[string]bool) int {
	s, ok := steps[id]
	if !ok || visiting[id] {
		return 0
	}
	visiting[id] = true
	defer delete(visiting, id)
	total := 0
	for _, t := range s.Targets() {
		if t.IsTerminal() {
			total++
		} else if t.Step != "" {
			total += countPaths(t.Step, steps, visiting)
		}
	}
	return total
}

func markReachable(id string, steps map[string]*contracts.Step, seen map[string]bool, includeHandlers bool) {
	s, ok := steps[id]
	if !ok || seen[id] {
		return
	}
	seen[id] = true
	targets := s.Targets()
	if includeHandlers {
		targets = append(targets, s.HandlerTargets()...)
	}
	for _, t := range targets {
		if t.Step != "" {
			markReachable(t.Step, steps, seen, includeHandlers)
		}
	}
}

// effectReachability (s7): each operation is invoked by some flow step —
// directly, in a parallel branch, or as a compensation step — or it is dead.
type effectReachability struct{}

func (effectReachability) ID() string { return "s7" }

func (effectReachability) Run(a *Analysis) {
	invoked := map[string]bool{}
	var collect func(steps map[string]*contracts.Step)
	collect = func(steps map[string]*contracts.Step) {
		for _, s := range steps {
			switch s.Kind {
			case contracts.StepOperation:
				invoked[s.Op] = true
				if s.OnFailure != nil {
					for _, cs := range s.OnFailure.Steps {
						invoked[cs.Op] = true
					}
				}
			case contracts.StepParallel:
				for _, br := range s.Branches {
					collect(br.Steps)
				}
				if s.Join != nil && s.Join.OnAnyFailure != nil {
					for _, cs := range s.Join.OnAnyFailure.Steps {
						invoked[cs.Op] = true
					}
				}
			case contracts.StepSubFlow:
				if s.OnFailure != nil {
					for _, cs := range s.OnFailure.Steps {
						invoked[cs.Op] = true
					}
				}
			}
		}
	}
	for _, fl := range a.Bundle.Flows() {
		collect(fl.Steps)
	}
	for _, op := range a.Bundle.Operations() {
		if !invoked[op.ID] {
			a.Report(contracts.SeverityWarning, op.ID, op.Prov,
				fmt.Sprintf("operation %q is not invoked by any flow step", op.ID))
		}
	}
}

// verdictClosure (s8): every verdict_present reference — in rules,
// preconditions, and branch conditions — names a produced verdict.
type verdictClosure struct{}

func (verdictClosure) ID() string { return "s8" }

func (verdictClosure) Run(a *Analysis) {
	produced := map[string]bool{}
	for _, r := range a.Bundle.Rules() {
		produced[r.Produce.VerdictType] = true
	}
	report := func(owner string, prov contracts.Provenance, e *contracts.Expr) {
		for _, vt := range e.VerdictRefs() {
			if !produced[vt] {
				a.Report(contracts.SeverityError, owner, prov,
					fmt.Sprintf("%q checks verdict %q which no rule produces", owner, vt))
			}
		}
	}
	for _, r := range a.Bundle.Rules() {
		report(r.ID, r.Prov, r.When)
	}
	for _, op := range a.Bundle.Operations() {
		if op.Precondition != nil {
			report(op.ID, op.Prov, op.Precondition)
		}
	}
	var walk func(steps map[string]*contracts.Step)
	walk = func(steps map[string]*contracts.Step) {
		for _, s := range sortedFlowSteps(steps) {
			if s.Kind == contracts.StepBranch {
				report(s.ID, s.Prov, s.Condition)
			}
			if s.Kind == contracts.StepParallel {
				for _, br := range s.Branches {
					walk(br.Steps)
				}
			}
		}
	}
	for _, fl := range a.Bundle.Flows() {
		walk(fl.Steps)
	}
}

// crossContract (s6_cross): system trigger chains are acyclic and their
// endpoints exist in the member contracts provided to the analyzer.
type crossContract struct{}

func (crossContract) ID() string { return "s6_cross" }

func (crossContract) Run(a *Analysis) {
	for _, sys := range a.Bundle.Systems() {
		for _, tr := range sys.Triggers {
			a.Report(contracts.SeverityInfo, sys.ID, sys.Prov,
				fmt.Sprintf("trigger: %s.%s --[%s]--> %s.%s (persona %s)",
					tr.FromContract, tr.FromFlow, tr.Outcome, tr.ToContract, tr.ToFlow, tr.Persona))

			target, known := a.Members[tr.ToContract]
			if !known {
				continue // member bundle not supplied; nothing to check against
			}
			if target.Flow(tr.ToFlow) == nil {
				a.Report(contracts.SeverityError, sys.ID, sys.Prov,
					fmt.Sprintf("trigger targets flow %q which contract %q does not declare",
						tr.ToFlow, tr.ToContract))
			}
			if target.Persona(tr.Persona) == nil {
				a.Report(contracts.SeverityError, sys.ID, sys.Prov,
					fmt.Sprintf("trigger persona %q is not declared in contract %q",
						tr.Persona, tr.ToContract))
			}
		}

		if cycle := triggerCycle(sys.Triggers); cycle != "" {
			a.Report(contracts.SeverityError, sys.ID, sys.Prov,
				fmt.Sprintf("trigger chain contains a cycle through %s", cycle))
		} else if len(sys.Triggers) > 0 {
			a.Report(contracts.SeverityInfo, sys.ID, sys.Prov,
				fmt.Sprintf("trigger chain of %d edges is acyclic", len(sys.Triggers)))
		}
	}
}

// triggerCycle looks for a cycle in the flow-to-flow trigger graph and
// returns one node on it, or empty.
func triggerCycle(triggers []contracts.Trigger) string {
	edges := map[string][]string{}
	for _, tr := range triggers {
		from := tr.FromContract + "." + tr.FromFlow
		to := tr.ToContract + "." + tr.ToFlow
		edges[from] = append(edges[from], to)
	}
	nodes := make([]string, 0, len(edges))
	for n := range edges {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(n string) string
	visit = func(n string) string {
		color[n] = grey
		for _, m := range edges[n] {
			switch color[m] {
			case grey:
				return m
			case white:
				if hit := visit(m); hit != "" {
					return hit
				}
			}
		}
		color[n] = black
		return ""
	}
	for _, n := range nodes {
		if color[n] == white {
			if hit := visit(n); hit != "" {
				return hit
			}
		}
	}
	return ""
}
