// Package executor walks flow step graphs against a frozen verdict snapshot
// and a working copy of entity state. Execution is deterministic: identical
// inputs produce an identical FlowResult, step trace included. The executor
// performs no I/O and never mutates the caller's maps — state changes come
// back as a delta.
package executor

import (
	"fmt"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/eval"
)

// StateKey identifies one runtime instance of an entity.
type StateKey struct {
	Entity   string `json:"entity"`
	Instance string `json:"instance"`
}

func (k StateKey) String() string { return k.Entity + "/" + k.Instance }

// DefaultInstance is the synthetic instance id for entities that never
// declare multi-instance keys.
const DefaultInstance = "_default"

// EntityStateMap is the caller-owned current state of every instance.
type EntityStateMap map[StateKey]string

// Clone copies the map.
func (m EntityStateMap) Clone() EntityStateMap {
	out := make(EntityStateMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// InstanceBindings maps entity ids to the instance a flow run operates on.
// Bindings resolve once at initiation.
type InstanceBindings map[string]string

// StateChange is one applied transition.
type StateChange struct {
	Entity   string `json:"entity"`
	Instance string `json:"instance"`
	From     string `json:"from"`
	To       string `json:"to"`
	StepID   string `json:"step_id"`
}

// StepTrace records one executed step: enough, together with the inputs, to
// reconstruct the run without executing again.
type StepTrace struct {
	StepID       string             `json:"step_id"`
	Kind         contracts.StepKind `json:"kind"`
	Persona      string             `json:"persona"`
	Decision     string             `json:"decision,omitempty"` // branch: "true"/"false"
	Outcome      string             `json:"outcome,omitempty"`
	FailureKind  string             `json:"failure_kind,omitempty"`
	Compensation bool               `json:"compensation,omitempty"`
	Before       map[string]string  `json:"before,omitempty"` // state key → state
	After        map[string]string  `json:"after,omitempty"`
	FactsRead    []string           `json:"facts_read,omitempty"`
	VerdictsRead []string           `json:"verdicts_read,omitempty"`
}

// FlowResult is the outcome of one flow run.
type FlowResult struct {
	FlowID       string         `json:"flow_id"`
	Outcome      string         `json:"outcome"`
	Failed       bool           `json:"failed"`
	Cancelled    bool           `json:"cancelled,omitempty"`
	Simulated    bool           `json:"simulated,omitempty"`
	Steps        []StepTrace    `json:"steps"`
	StateChanges []StateChange  `json:"state_changes"`
	Snapshot     *eval.Snapshot `json:"snapshot"`
}

// InitiationError reports why a flow could not start at all — as opposed to
// a step failure, which handlers catch.
type InitiationError struct {
	FlowID  string
	Message string
}

func (e *InitiationError) Error() string {
	return fmt.Sprintf("flow %q cannot start: %s", e.FlowID, e.Message)
}

// Internal-error outcome labels. These only appear when a contract slipped
// past elaboration, e.g. a hand-assembled bundle with an unrouted outcome.
const (
	outcomeInternalError = "internal_error"
	outcomeCancelled     = "cancelled"
)
