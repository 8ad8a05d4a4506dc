package executor

import (
	"context"
	"fmt"
	"sort"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/eval"
)

// Action is a flow the persona may initiate right now.
type Action struct {
	FlowID string `json:"flow_id"`
}

// BlockedAction is a flow the persona may not initiate, with the reasons.
type BlockedAction struct {
	FlowID  string   `json:"flow_id"`
	Reasons []string `json:"reasons"`
}

// ActionSpace reports, for each flow, whether the persona may initiate it
// under the current snapshot and entity state.
type ActionSpace struct {
	Actions  []Action        `json:"actions"`
	Blocked  []BlockedAction `json:"blocked_actions"`
	Verdicts *eval.Snapshot  `json:"verdicts"`
}

// ComputeActionSpace evaluates the snapshot once and probes every flow's
// entry path: persona gating, entry precondition, and the first effects'
// entity states. Entity state is read from the default instance; an entry
// effect on an entity declaring an instance key blocks the flow with a
// missing-binding reason, since no bindings are supplied here.
func (x *Executor) ComputeActionSpace(ctx context.Context, b *contracts.Bundle, persona string, facts eval.FactSet, states EntityStateMap) (*ActionSpace, error) {
	snap, err := x.evaluator.Evaluate(ctx, b, facts)
	if err != nil {
		return nil, err
	}

	space := &ActionSpace{Verdicts: snap}
	flows := b.Flows()
	sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })

	for _, fl := range flows {
		reasons := x.probeEntry(b, fl, persona, facts, snap, states)
		if len(reasons) == 0 {
			space.Actions = append(space.Actions, Action{FlowID: fl.ID})
		} else {
			space.Blocked = append(space.Blocked, BlockedAction{FlowID: fl.ID, Reasons: reasons})
		}
	}
	return space, nil
}

func (x *Executor) probeEntry(b *contracts.Bundle, fl *contracts.Flow, persona string, facts eval.FactSet, snap *eval.Snapshot, states EntityStateMap) []string {
	var reasons []string

	entry := fl.Steps[fl.Entry]
	if entry == nil {
		return []string{"entry step does not exist"}
	}

	switch entry.Kind {
	case contracts.StepHandoff:
		if entry.FromPersona != persona {
			reasons = append(reasons,
				fmt.Sprintf("entry handoff expects persona %q", entry.FromPersona))
		}

	case contracts.StepOperation:
		op := b.Operation(entry.Op)
		if op == nil {
			return []string{"entry operation does not exist"}
		}
		if !op.AllowsPersona(persona) {
			reasons = append(reasons,
				fmt.Sprintf("persona %q may not invoke operation %q", persona, op.ID))
		}
		if op.Precondition != nil {
			ok, _, _, _, err := eval.EvalPredicate(b, op.Precondition, facts, snap, x.policy)
			if err != nil {
				reasons = append(reasons,
					fmt.Sprintf("precondition of %q errs: %v", op.ID, err))
			} else if !ok {
				reasons = append(reasons,
					fmt.Sprintf("precondition of %q is false under the current snapshot", op.ID))
			}
		}
		for _, eff := range op.Effects {
			ent := b.Entity(eff.Entity)
			if ent == nil {
				continue
			}
			if ent.InstanceKey != "" {
				reasons = append(reasons,
					fmt.Sprintf("entity %q needs an instance binding", ent.ID))
				continue
			}
			cur, ok := states[StateKey{Entity: eff.Entity, Instance: DefaultInstance}]
			if !ok {
				cur = ent.Initial
			}
			if eff.Outcome == "" && cur != eff.From {
				reasons = append(reasons,
					fmt.Sprintf("entity %q is in state %q, effect needs %q", eff.Entity, cur, eff.From))
			}
		}
	}
	return dedupe(reasons)
}

func dedupe(xs []string) []string {
	seen := map[string]bool{}
	out := xs[:0]
	for _, s := range xs {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
