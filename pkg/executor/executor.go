package executor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/eval"
)

const tracerName = "tenor/executor"

// Executor runs flows. Safe for concurrent use; each run carries its own
// state.
type Executor struct {
	evaluator *eval.Evaluator
	policy    eval.FactAbsentPolicy
	log       *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithFactAbsentPolicy sets the absent-fact behavior for snapshot
// evaluation and preconditions.
func WithFactAbsentPolicy(p eval.FactAbsentPolicy) Option {
	return func(x *Executor) { x.policy = p }
}

// WithLogger installs a logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) {
		if l != nil {
			x.log = l
		}
	}
}

// New constructs an Executor.
func New(opts ...Option) *Executor {
	x := &Executor{policy: eval.FactAbsentAsFalse, log: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(x)
	}
	x.evaluator = eval.New(eval.WithFactAbsentPolicy(x.policy))
	return x
}

// ExecuteFlow initiates the flow: rules are evaluated once into the frozen
// snapshot, a working copy of entity state is taken, and the step graph is
// walked until a terminal. Cancellation via ctx is honored at step
// boundaries and yields a "cancelled" outcome with the partial trace, or a
// "timeout" outcome when the context's deadline expired.
func (x *Executor) ExecuteFlow(ctx context.Context, b *contracts.Bundle, flowID, persona string, facts eval.FactSet, states EntityStateMap, bindings InstanceBindings) (*FlowResult, error) {
	return x.run(ctx, b, flowID, persona, facts, states, bindings, false)
}

// SimulateFlow has identical semantics to ExecuteFlow but marks the result
// simulated: the caller observes the would-be state changes and commits
// nothing. The executor itself never mutates the caller's maps either way.
func (x *Executor) SimulateFlow(ctx context.Context, b *contracts.Bundle, flowID, persona string, facts eval.FactSet, states EntityStateMap, bindings InstanceBindings) (*FlowResult, error) {
	return x.run(ctx, b, flowID, persona, facts, states, bindings, true)
}

func (x *Executor) run(ctx context.Context, b *contracts.Bundle, flowID, persona string, facts eval.FactSet, states EntityStateMap, bindings InstanceBindings, simulated bool) (*FlowResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "execute_flow")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenor.flow", flowID),
		attribute.Bool("tenor.simulated", simulated),
	)

	fl := b.Flow(flowID)
	if fl == nil {
		return nil, &InitiationError{FlowID: flowID, Message: "no such flow"}
	}

	entities := flowEntities(b, fl)
	resolved, err := resolveBindings(b, entities, bindings)
	if err != nil {
		return nil, err
	}

	snap, err := x.evaluator.Evaluate(ctx, b, facts)
	if err != nil {
		return nil, err
	}

	ws := newWorkingState(states, entities)
	for _, ent := range sortedEntitySet(entities) {
		key := StateKey{Entity: ent, Instance: resolved[ent]}
		if _, ok := ws.get(key); !ok {
			if decl := b.Entity(ent); decl != nil {
				ws.states[key] = decl.Initial
			}
		}
	}

	r := &runCtx{
		x:        x,
		ctx:      ctx,
		bundle:   b,
		facts:    facts,
		snap:     snap,
		bindings: resolved,
		persona:  persona,
	}
	ex := r.runGraph(fl.Steps, fl.Entry, ws)

	x.log.DebugContext(ctx, "flow complete",
		"flow", flowID, "outcome", ex.outcome, "steps", len(r.trace), "changes", len(ws.deltas))
	return &FlowResult{
		FlowID:       flowID,
		Outcome:      ex.outcome,
		Failed:       ex.failed,
		Cancelled:    ex.cancelled,
		Simulated:    simulated,
		Steps:        r.trace,
		StateChanges: ws.deltas,
		Snapshot:     snap,
	}, nil
}

// flowEntities collects every entity an operation reachable from the flow
// can affect, through parallel branches, compensations, and sub-flows.
func flowEntities(b *contracts.Bundle, fl *contracts.Flow) map[string]bool {
	out := map[string]bool{}
	seenFlows := map[string]bool{}
	addOp := func(opID string) {
		if op := b.Operation(opID); op != nil {
			for _, eff := range op.Effects {
				out[eff.Entity] = true
			}
		}
	}
	addHandler := func(h *contracts.Handler) {
		if h == nil {
			return
		}
		for _, cs := range h.Steps {
			addOp(cs.Op)
		}
	}
	var walkFlow func(fl *contracts.Flow)
	var walkSteps func(steps map[string]*contracts.Step)
	walkSteps = func(steps map[string]*contracts.Step) {
		for _, s := range steps {
			switch s.Kind {
			case contracts.StepOperation:
				addOp(s.Op)
				addHandler(s.OnFailure)
			case contracts.StepSubFlow:
				addHandler(s.OnFailure)
				if sub := b.Flow(s.SubFlow); sub != nil {
					walkFlow(sub)
				}
			case contracts.StepParallel:
				for _, br := range s.Branches {
					walkSteps(br.Steps)
				}
				if s.Join != nil {
					addHandler(s.Join.OnAnyFailure)
				}
			}
		}
	}
	walkFlow = func(fl *contracts.Flow) {
		if seenFlows[fl.ID] {
			return
		}
		seenFlows[fl.ID] = true
		walkSteps(fl.Steps)
	}
	walkFlow(fl)
	return out
}

// resolveBindings fixes the instance for every entity the flow touches.
// Entities declaring an instance key need an explicit binding; the rest
// degenerate to the synthetic default instance.
func resolveBindings(b *contracts.Bundle, entities map[string]bool, bindings InstanceBindings) (map[string]string, error) {
	resolved := map[string]string{}
	for _, ent := range sortedEntitySet(entities) {
		if inst, ok := bindings[ent]; ok {
			resolved[ent] = inst
			continue
		}
		if decl := b.Entity(ent); decl != nil && decl.InstanceKey != "" {
			return nil, &InitiationError{
				Message: "no instance binding for multi-instance entity " + ent,
			}
		}
		resolved[ent] = DefaultInstance
	}
	return resolved, nil
}

// runCtx is one sequential execution context: the flow's main line, a
// parallel branch, or a compensation sequence. Parallel branches fork child
// contexts with their own trace buffers.
type runCtx struct {
	x        *Executor
	ctx      context.Context
	bundle   *contracts.Bundle
	facts    eval.FactSet
	snap     *eval.Snapshot
	bindings map[string]string
	persona  string
	trace    []StepTrace
}

// exit is a finished graph walk.
type exit struct {
	outcome   string
	failed    bool
	cancelled bool
}

// runGraph walks one step graph until a terminal. Elaboration proved the
// graph acyclic, so the walk is bounded; the step budget is a backstop for
// hand-assembled bundles only.
func (r *runCtx) runGraph(steps map[string]*contracts.Step, entry string, ws *workingState) exit {
	cur := contracts.Target{Step: entry}
	for budget := 4*len(steps) + 16; budget > 0; budget-- {
		if err := r.ctx.Err(); err != nil {
			outcome := outcomeCancelled
			if errors.Is(err, context.DeadlineExceeded) {
				outcome = contracts.FailTimeout
			}
			return exit{outcome: outcome, failed: true, cancelled: true}
		}
		if cur.IsTerminal() {
			return exit{outcome: cur.Terminal}
		}
		s, ok := steps[cur.Step]
		if !ok {
			return exit{outcome: outcomeInternalError, failed: true}
		}

		var ex *exit
		cur, ex = r.runStep(s, ws)
		if ex != nil {
			return *ex
		}
	}
	return exit{outcome: outcomeInternalError, failed: true}
}

func (r *runCtx) runStep(s *contracts.Step, ws *workingState) (contracts.Target, *exit) {
	switch s.Kind {
	case contracts.StepOperation:
		return r.runOperationStep(s, ws)
	case contracts.StepBranch:
		return r.runBranchStep(s, ws)
	case contracts.StepHandoff:
		return r.runHandoffStep(s)
	case contracts.StepSubFlow:
		return r.runSubFlowStep(s, ws)
	case contracts.StepParallel:
		return r.runParallelStep(s, ws)
	default:
		return contracts.Target{}, &exit{outcome: outcomeInternalError, failed: true}
	}
}

func (r *runCtx) runOperationStep(s *contracts.Step, ws *workingState) (contracts.Target, *exit) {
	op := r.bundle.Operation(s.Op)
	if op == nil {
		return contracts.Target{}, &exit{outcome: outcomeInternalError, failed: true}
	}
	tr := StepTrace{StepID: s.ID, Kind: s.Kind, Persona: r.persona}
	outcome, failKind := r.invoke(op, s.ID, r.persona, ws, &tr)
	tr.Outcome = outcome
	tr.FailureKind = failKind
	r.trace = append(r.trace, tr)

	if failKind != "" {
		return r.handleFailure(s.OnFailure, ws)
	}
	target, routed := s.Outcomes[outcome]
	if !routed {
		return contracts.Target{}, &exit{outcome: outcomeInternalError, failed: true}
	}
	return target, nil
}

func (r *runCtx) runBranchStep(s *contracts.Step, ws *workingState) (contracts.Target, *exit) {
	tr := StepTrace{StepID: s.ID, Kind: s.Kind, Persona: r.persona}
	ok, factsRead, verdictsRead, _, err := eval.EvalPredicate(r.bundle, s.Condition, r.facts, r.snap, r.x.policy)
	tr.FactsRead = factsRead
	tr.VerdictsRead = verdictsRead
	if err != nil {
		tr.FailureKind = outcomeInternalError
		r.trace = append(r.trace, tr)
		return contracts.Target{}, &exit{outcome: outcomeInternalError, failed: true}
	}
	if ok {
		tr.Decision = "true"
		r.trace = append(r.trace, tr)
		return s.IfTrue, nil
	}
	tr.Decision = "false"
	r.trace = append(r.trace, tr)
	return s.IfFalse, nil
}

func (r *runCtx) runHandoffStep(s *contracts.Step) (contracts.Target, *exit) {
	tr := StepTrace{StepID: s.ID, Kind: s.Kind, Persona: r.persona}
	if s.FromPersona != r.persona {
		tr.FailureKind = contracts.FailPersonaRejected
		r.trace = append(r.trace, tr)
		return contracts.Target{}, &exit{outcome: contracts.FailPersonaRejected, failed: true}
	}
	r.persona = s.ToPersona
	tr.Decision = s.FromPersona + "->" + s.ToPersona
	r.trace = append(r.trace, tr)
	return s.Next, nil
}

// runSubFlowStep executes the sub-flow synchronously with the parent's
// frozen snapshot, working state, persona, and bindings. Rules are not
// re-evaluated.
func (r *runCtx) runSubFlowStep(s *contracts.Step, ws *workingState) (contracts.Target, *exit) {
	sub := r.bundle.Flow(s.SubFlow)
	if sub == nil {
		return contracts.Target{}, &exit{outcome: outcomeInternalError, failed: true}
	}
	ex := r.runGraph(sub.Steps, sub.Entry, ws)
	tr := StepTrace{StepID: s.ID, Kind: s.Kind, Persona: r.persona, Outcome: ex.outcome}
	if ex.cancelled {
		r.trace = append(r.trace, tr)
		return contracts.Target{}, &ex
	}
	if ex.failed {
		tr.FailureKind = ex.outcome
		r.trace = append(r.trace, tr)
		return r.handleFailure(s.OnFailure, ws)
	}
	r.trace = append(r.trace, tr)
	return s.OnSuccess, nil
}

// runParallelStep executes each branch in an independent context over a
// copy of the working state restricted to the branch's entity set. Branches
// run concurrently; in-flight steps complete even when a sibling fails.
// Deltas merge into the parent only when every branch succeeds.
func (r *runCtx) runParallelStep(s *contracts.Step, ws *workingState) (contracts.Target, *exit) {
	n := len(s.Branches)
	children := make([]*runCtx, n)
	childStates := make([]*workingState, n)
	exits := make([]exit, n)

	var wg sync.WaitGroup
	for i := range s.Branches {
		br := s.Branches[i]
		branchEntities := map[string]bool{}
		for ent := range flowEntitiesOfSteps(r.bundle, br.Steps) {
			branchEntities[ent] = true
		}
		children[i] = &runCtx{
			x: r.x, ctx: r.ctx, bundle: r.bundle, facts: r.facts,
			snap: r.snap, bindings: r.bindings, persona: r.persona,
		}
		childStates[i] = ws.restrict(branchEntities)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exits[i] = children[i].runGraph(br.Steps, br.Entry, childStates[i])
		}(i)
	}
	wg.Wait()

	// Branch traces append in declaration order regardless of completion
	// order, keeping the overall trace deterministic.
	tr := StepTrace{StepID: s.ID, Kind: s.Kind, Persona: r.persona}
	r.trace = append(r.trace, tr)
	for i := range children {
		r.trace = append(r.trace, children[i].trace...)
	}

	if err := r.ctx.Err(); err != nil {
		// In-flight branches completed their current steps; their state
		// contribution is discarded.
		return contracts.Target{}, &exit{outcome: outcomeCancelled, failed: true, cancelled: true}
	}

	firstFailure := -1
	for i := range exits {
		if exits[i].failed {
			firstFailure = i
			break
		}
	}
	if firstFailure < 0 {
		for i := range childStates {
			ws.merge(childStates[i])
		}
		if s.Join == nil {
			return contracts.Target{}, &exit{outcome: outcomeInternalError, failed: true}
		}
		return s.Join.OnAllSuccess, nil
	}
	var handler *contracts.Handler
	if s.Join != nil {
		handler = s.Join.OnAnyFailure
	}
	return r.handleFailure(handler, ws)
}

func flowEntitiesOfSteps(b *contracts.Bundle, steps map[string]*contracts.Step) map[string]bool {
	synthetic := &contracts.Flow{ID: "", Steps: steps}
	return flowEntities(b, synthetic)
}

// handleFailure dispatches a step failure to its handler. A compensation
// step that itself fails routes to its own on_failure target and the
// remaining compensation steps are abandoned.
func (r *runCtx) handleFailure(h *contracts.Handler, ws *workingState) (contracts.Target, *exit) {
	if h == nil {
		return contracts.Target{}, &exit{outcome: outcomeInternalError, failed: true}
	}
	switch h.Kind {
	case contracts.HandlerTerminate:
		return contracts.Target{}, &exit{outcome: h.Outcome, failed: true}

	case contracts.HandlerCompensate:
		for _, cs := range h.Steps {
			op := r.bundle.Operation(cs.Op)
			if op == nil {
				return contracts.Target{}, &exit{outcome: outcomeInternalError, failed: true}
			}
			tr := StepTrace{StepID: cs.Op, Kind: contracts.StepOperation, Persona: cs.Persona, Compensation: true}
			outcome, failKind := r.invoke(op, cs.Op, cs.Persona, ws, &tr)
			tr.Outcome = outcome
			tr.FailureKind = failKind
			r.trace = append(r.trace, tr)
			if failKind != "" {
				if cs.OnFailure.IsZero() {
					return contracts.Target{}, &exit{outcome: outcomeInternalError, failed: true}
				}
				if cs.OnFailure.IsTerminal() {
					return contracts.Target{}, &exit{outcome: cs.OnFailure.Terminal, failed: true}
				}
				return cs.OnFailure, nil
			}
		}
		if h.Then.IsTerminal() {
			return contracts.Target{}, &exit{outcome: h.Then.Terminal, failed: true}
		}
		return h.Then, nil

	case contracts.HandlerEscalate:
		r.persona = h.ToPersona
		return h.Next, nil

	default:
		return contracts.Target{}, &exit{outcome: outcomeInternalError, failed: true}
	}
}

// invoke applies one operation invocation atomically: authority, then
// precondition against the frozen snapshot, then effect selection against
// the working state, then all-or-nothing application.
func (r *runCtx) invoke(op *contracts.Operation, stepID, persona string, ws *workingState, tr *StepTrace) (string, string) {
	if !op.AllowsPersona(persona) {
		return "", contracts.FailPersonaRejected
	}

	if op.Precondition != nil {
		ok, factsRead, verdictsRead, _, err := eval.EvalPredicate(r.bundle, op.Precondition, r.facts, r.snap, r.x.policy)
		tr.FactsRead = factsRead
		tr.VerdictsRead = verdictsRead
		if err != nil || !ok {
			return "", contracts.FailPreconditionFailed
		}
	}

	affected := map[string]bool{}
	for _, eff := range op.Effects {
		affected[eff.Entity] = true
	}
	tr.Before = ws.view(affected)

	outcome, effects, ok := r.selectOutcome(op, ws)
	if !ok {
		tr.After = ws.view(affected)
		return "", contracts.FailEntityStateMismatch
	}
	for _, eff := range effects {
		key := StateKey{Entity: eff.Entity, Instance: r.bindings[eff.Entity]}
		ws.apply(key, eff.From, eff.To, stepID)
	}
	tr.After = ws.view(affected)
	return outcome, ""
}

// selectOutcome picks the operation outcome whose effects all apply to the
// current working state. Unlabeled effects participate in every outcome;
// an operation with no labeled effects has the single outcome "success".
func (r *runCtx) selectOutcome(op *contracts.Operation, ws *workingState) (string, []contracts.Effect, bool) {
	labels := map[string]bool{}
	for _, eff := range op.Effects {
		if eff.Outcome != "" {
			labels[eff.Outcome] = true
		}
	}
	candidates := []string{"success"}
	if len(labels) > 0 {
		candidates = make([]string, 0, len(labels))
		for l := range labels {
			candidates = append(candidates, l)
		}
		sort.Strings(candidates)
	}

	for _, candidate := range candidates {
		effects := op.EffectsFor(candidate)
		applicable := true
		for _, eff := range effects {
			key := StateKey{Entity: eff.Entity, Instance: r.bindings[eff.Entity]}
			if cur, ok := ws.get(key); !ok || cur != eff.From {
				applicable = false
				break
			}
		}
		if applicable {
			return candidate, effects, true
		}
	}
	return "", nil, false
}
