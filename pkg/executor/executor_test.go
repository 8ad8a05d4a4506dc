package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/elaborate"
	"github.com/riverline-labs/tenor/core/pkg/eval"
	"github.com/riverline-labs/tenor/core/pkg/parser"
)

func build(t *testing.T, src string) *contracts.Bundle {
	t.Helper()
	e := elaborate.New(elaborate.WithLoader(parser.MapLoader{"t.tenor": src}))
	b, err := e.Elaborate(context.Background(), "t.tenor")
	require.NoError(t, err)
	return b
}

const subscriptionSrc = `
contract subscription

persona approver
persona auditor

fact seats: int
fact limit: int = 10

entity Subscription {
  states: trial, active
  initial: trial
  transitions: trial -> active
}

rule seats_ok @0 {
  when seats ≤ limit
  produce seats_ok
}

operation activate {
  personas: approver
  precondition: verdict_present(seats_ok)
  effects: Subscription trial -> active
}

flow activation {
  entry s1
  step s1: operation activate by approver {
    on success -> check
    on failure terminate(failed)
  }
  step check: branch verdict_present(seats_ok) by approver {
    true -> end(activated)
    false -> end(denied)
  }
}
`

func TestExecuteFlow_VerdictGatedActivation(t *testing.T) {
	b := build(t, subscriptionSrc)
	x := New()

	res, err := x.ExecuteFlow(context.Background(), b, "activation", "approver",
		eval.FactSet{"seats": contracts.IntValue(5), "limit": contracts.IntValue(10)},
		EntityStateMap{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "activated", res.Outcome)
	assert.False(t, res.Failed)
	require.Len(t, res.StateChanges, 1)
	change := res.StateChanges[0]
	assert.Equal(t, "Subscription", change.Entity)
	assert.Equal(t, "trial", change.From)
	assert.Equal(t, "active", change.To)
	assert.Equal(t, DefaultInstance, change.Instance)

	require.Len(t, res.Steps, 2)
	assert.Equal(t, "s1", res.Steps[0].StepID)
	assert.Equal(t, "success", res.Steps[0].Outcome)
	assert.Equal(t, map[string]string{"Subscription/_default": "trial"}, res.Steps[0].Before)
	assert.Equal(t, map[string]string{"Subscription/_default": "active"}, res.Steps[0].After)
	assert.Equal(t, "true", res.Steps[1].Decision)

	require.Len(t, res.Snapshot.Verdicts, 1)
	assert.Equal(t, "seats_ok", res.Snapshot.Verdicts[0].Type)
}

func TestExecuteFlow_SnapshotFrozenAtInitiation(t *testing.T) {
	b := build(t, subscriptionSrc)
	x := New()
	facts := eval.FactSet{"seats": contracts.IntValue(5), "limit": contracts.IntValue(10)}

	res, err := x.ExecuteFlow(context.Background(), b, "activation", "approver", facts, EntityStateMap{}, nil)
	require.NoError(t, err)
	require.Equal(t, "activated", res.Outcome)

	// Mutating the caller's fact set after the run must not be visible in
	// the frozen snapshot the result carries.
	facts["seats"] = contracts.IntValue(20)
	assert.True(t, res.Snapshot.Present("seats_ok"))
	assert.Equal(t, "true", res.Steps[1].Decision,
		"the branch consulted the snapshot, not live facts")
}

func TestExecuteFlow_PreconditionFailed(t *testing.T) {
	b := build(t, subscriptionSrc)
	x := New()

	res, err := x.ExecuteFlow(context.Background(), b, "activation", "approver",
		eval.FactSet{"seats": contracts.IntValue(50), "limit": contracts.IntValue(10)},
		EntityStateMap{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "failed", res.Outcome)
	assert.True(t, res.Failed)
	assert.Empty(t, res.StateChanges)
	assert.Equal(t, contracts.FailPreconditionFailed, res.Steps[0].FailureKind)
}

func TestExecuteFlow_PersonaRejected(t *testing.T) {
	b := build(t, subscriptionSrc)
	x := New()

	res, err := x.ExecuteFlow(context.Background(), b, "activation", "auditor",
		eval.FactSet{"seats": contracts.IntValue(5), "limit": contracts.IntValue(10)},
		EntityStateMap{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "failed", res.Outcome)
	assert.Equal(t, contracts.FailPersonaRejected, res.Steps[0].FailureKind)
}

func TestExecuteFlow_EntityStateMismatch(t *testing.T) {
	b := build(t, subscriptionSrc)
	x := New()

	res, err := x.ExecuteFlow(context.Background(), b, "activation", "approver",
		eval.FactSet{"seats": contracts.IntValue(5), "limit": contracts.IntValue(10)},
		EntityStateMap{{Entity: "Subscription", Instance: DefaultInstance}: "active"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "failed", res.Outcome)
	assert.Equal(t, contracts.FailEntityStateMismatch, res.Steps[0].FailureKind)
	assert.Empty(t, res.StateChanges, "effects apply all-or-nothing")
}

const inspectionSrc = `
contract inspection

persona inspector
persona shipper

entity QualityLot {
  states: pending, in_progress, passed, failed
  initial: pending
  transitions: pending -> in_progress, pending -> passed, pending -> failed, in_progress -> passed, in_progress -> failed, passed -> pending
}

entity ComplianceLot {
  states: pending, in_progress, passed, failed
  initial: pending
  transitions: pending -> in_progress, pending -> passed, pending -> failed, in_progress -> passed, in_progress -> failed
}

entity Shipment {
  states: open, held
  initial: open
  transitions: open -> held
}

operation record_quality_pass {
  personas: inspector
  effects: QualityLot pending -> passed
}

operation record_compliance_pass {
  personas: inspector
  effects: ComplianceLot pending -> passed
}

operation hold_shipment {
  personas: shipper
  effects: Shipment open -> held
}

operation revert_quality {
  personas: inspector
  effects: QualityLot passed -> pending
}

flow inspect_and_hold {
  entry inspections
  step inspections: parallel {
    branch quality {
      entry q1
      step q1: operation record_quality_pass by inspector {
        on success -> end(quality_done)
        on failure terminate(quality_failed)
      }
    }
    branch compliance {
      entry c1
      step c1: operation record_compliance_pass by inspector {
        on success -> end(compliance_done)
        on failure terminate(compliance_failed)
      }
    }
    join {
      on all_success -> hold
      on any_failure terminate(inspection_failed)
    }
  }
  step hold: operation hold_shipment by shipper {
    on success -> end(shipped)
    on failure compensate(revert_quality by inspector on failure -> end(stuck)) then -> end(inspection_reverted)
  }
}
`

func TestExecuteFlow_ParallelJoinAndMerge(t *testing.T) {
	b := build(t, inspectionSrc)
	x := New()

	res, err := x.ExecuteFlow(context.Background(), b, "inspect_and_hold", "shipper",
		eval.FactSet{}, EntityStateMap{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "shipped", res.Outcome)
	assert.False(t, res.Failed)
	require.Len(t, res.StateChanges, 3)
	assert.Equal(t, "QualityLot", res.StateChanges[0].Entity, "branch deltas merge in declaration order")
	assert.Equal(t, "ComplianceLot", res.StateChanges[1].Entity)
	assert.Equal(t, "Shipment", res.StateChanges[2].Entity)
}

func TestExecuteFlow_CompensationAfterParallel(t *testing.T) {
	b := build(t, inspectionSrc)
	x := New()

	// A shipment already held makes hold_shipment fail with a state
	// mismatch, driving the compensation path.
	res, err := x.ExecuteFlow(context.Background(), b, "inspect_and_hold", "shipper",
		eval.FactSet{},
		EntityStateMap{{Entity: "Shipment", Instance: DefaultInstance}: "held"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "inspection_reverted", res.Outcome)
	assert.True(t, res.Failed)

	// Both inspections committed, then quality was reverted.
	require.Len(t, res.StateChanges, 3)
	last := res.StateChanges[2]
	assert.Equal(t, "QualityLot", last.Entity)
	assert.Equal(t, "passed", last.From)
	assert.Equal(t, "pending", last.To)

	var compTrace *StepTrace
	for i := range res.Steps {
		if res.Steps[i].Compensation {
			compTrace = &res.Steps[i]
		}
	}
	require.NotNil(t, compTrace, "compensation invocation is traced")
	assert.Equal(t, "revert_quality", compTrace.StepID)
	assert.Equal(t, "inspector", compTrace.Persona)
}

const handoffSrc = `
contract handoff_fixture

persona drafter
persona approver

entity Doc {
  states: draft, approved
  initial: draft
  transitions: draft -> approved
}

operation approve {
  personas: approver
  effects: Doc draft -> approved
}

flow approval {
  entry pass_on
  step pass_on: handoff drafter -> approver -> sign
  step sign: operation approve by approver {
    on success -> end(done)
    on failure terminate(failed)
  }
}
`

func TestExecuteFlow_HandoffTransfersAuthority(t *testing.T) {
	b := build(t, handoffSrc)
	x := New()

	res, err := x.ExecuteFlow(context.Background(), b, "approval", "drafter",
		eval.FactSet{}, EntityStateMap{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", res.Outcome)
	assert.Equal(t, "drafter->approver", res.Steps[0].Decision)
	assert.Equal(t, "approver", res.Steps[1].Persona)

	// Initiating as the wrong persona fails the handoff itself.
	res, err = x.ExecuteFlow(context.Background(), b, "approval", "approver",
		eval.FactSet{}, EntityStateMap{}, nil)
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, contracts.FailPersonaRejected, res.Outcome)
}

const subflowSrc = `
contract subflow_fixture

persona worker

fact n: int = 1

entity Task {
  states: todo, doing, done
  initial: todo
  transitions: todo -> doing, doing -> done
}

rule go @0 { when n = 1 produce go }

operation start {
  personas: worker
  precondition: verdict_present(go)
  effects: Task todo -> doing
}

operation finish {
  personas: worker
  precondition: verdict_present(go)
  effects: Task doing -> done
}

flow inner {
  entry f1
  step f1: operation finish by worker {
    on success -> end(finished)
    on failure terminate(inner_failed)
  }
}

flow outer {
  entry s1
  step s1: operation start by worker {
    on success -> sub
    on failure terminate(failed)
  }
  step sub: subflow inner by worker {
    on success -> end(all_done)
    on failure terminate(failed)
  }
}
`

func TestExecuteFlow_SubFlowSharesSnapshotAndState(t *testing.T) {
	b := build(t, subflowSrc)
	x := New()

	res, err := x.ExecuteFlow(context.Background(), b, "outer", "worker",
		eval.FactSet{}, EntityStateMap{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "all_done", res.Outcome)
	require.Len(t, res.StateChanges, 2)
	assert.Equal(t, "doing", res.StateChanges[0].To)
	assert.Equal(t, "done", res.StateChanges[1].To,
		"sub-flow observed the parent's working state")

	var subTrace *StepTrace
	for i := range res.Steps {
		if res.Steps[i].Kind == contracts.StepSubFlow {
			subTrace = &res.Steps[i]
		}
	}
	require.NotNil(t, subTrace)
	assert.Equal(t, "finished", subTrace.Outcome)
}

func TestExecuteFlow_Cancellation(t *testing.T) {
	b := build(t, subscriptionSrc)
	x := New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := x.ExecuteFlow(ctx, b, "activation", "approver",
		eval.FactSet{"seats": contracts.IntValue(5), "limit": contracts.IntValue(10)},
		EntityStateMap{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "cancelled", res.Outcome)
	assert.True(t, res.Cancelled)
	assert.Empty(t, res.Steps)
}

func TestSimulateFlow_MarksResultAndMatchesExecution(t *testing.T) {
	b := build(t, subscriptionSrc)
	x := New()
	facts := eval.FactSet{"seats": contracts.IntValue(5), "limit": contracts.IntValue(10)}
	states := EntityStateMap{}

	sim, err := x.SimulateFlow(context.Background(), b, "activation", "approver", facts, states, nil)
	require.NoError(t, err)
	run, err := x.ExecuteFlow(context.Background(), b, "activation", "approver", facts, states, nil)
	require.NoError(t, err)

	assert.True(t, sim.Simulated)
	assert.False(t, run.Simulated)
	assert.Equal(t, run.Outcome, sim.Outcome)
	assert.Equal(t, run.StateChanges, sim.StateChanges)
	assert.Equal(t, run.Steps, sim.Steps)
	assert.Empty(t, states, "neither run touched the caller's map")
}

func TestExecuteFlow_Deterministic(t *testing.T) {
	b := build(t, inspectionSrc)
	x := New()

	run := func() *FlowResult {
		res, err := x.ExecuteFlow(context.Background(), b, "inspect_and_hold", "shipper",
			eval.FactSet{}, EntityStateMap{}, nil)
		require.NoError(t, err)
		return res
	}
	first := run()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, run(), "parallel branches must not leak scheduling into the result")
	}
}

func TestExecuteFlow_MissingBindingForKeyedEntity(t *testing.T) {
	b := build(t, `
persona p
fact lot_id: text
entity Lot {
  states: a, b
  initial: a
  transitions: a -> b
  instance_key: lot_id
}
operation move { personas: p  effects: Lot a -> b }
flow f {
  entry s1
  step s1: operation move by p { on success -> end(ok) on failure terminate(bad) }
}
`)
	x := New()
	_, err := x.ExecuteFlow(context.Background(), b, "f", "p", eval.FactSet{}, EntityStateMap{}, nil)
	var ierr *InitiationError
	require.ErrorAs(t, err, &ierr)

	res, err := x.ExecuteFlow(context.Background(), b, "f", "p", eval.FactSet{}, EntityStateMap{},
		InstanceBindings{"Lot": "lot-7"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Outcome)
	require.Len(t, res.StateChanges, 1)
	assert.Equal(t, "lot-7", res.StateChanges[0].Instance)
}

func TestComputeActionSpace(t *testing.T) {
	b := build(t, subscriptionSrc)
	x := New()

	space, err := x.ComputeActionSpace(context.Background(), b, "approver",
		eval.FactSet{"seats": contracts.IntValue(5), "limit": contracts.IntValue(10)},
		EntityStateMap{})
	require.NoError(t, err)
	require.Len(t, space.Actions, 1)
	assert.Equal(t, "activation", space.Actions[0].FlowID)
	assert.True(t, space.Verdicts.Present("seats_ok"))

	space, err = x.ComputeActionSpace(context.Background(), b, "auditor",
		eval.FactSet{"seats": contracts.IntValue(5), "limit": contracts.IntValue(10)},
		EntityStateMap{})
	require.NoError(t, err)
	require.Len(t, space.Blocked, 1)
	assert.Contains(t, space.Blocked[0].Reasons[0], "auditor")

	space, err = x.ComputeActionSpace(context.Background(), b, "approver",
		eval.FactSet{"seats": contracts.IntValue(50), "limit": contracts.IntValue(10)},
		EntityStateMap{})
	require.NoError(t, err)
	require.Len(t, space.Blocked, 1)
	assert.Contains(t, space.Blocked[0].Reasons[0], "precondition")
}
