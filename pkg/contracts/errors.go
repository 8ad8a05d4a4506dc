package contracts

import "fmt"

// ErrKind is the closed set of error kinds surfaced to callers.
type ErrKind string

// Elaboration error kinds.
const (
	ErrImport                 ErrKind = "ImportError"
	ErrDuplicateID            ErrKind = "DuplicateId"
	ErrUnresolvedReference    ErrKind = "UnresolvedReference"
	ErrUnknownType            ErrKind = "UnknownType"
	ErrTypeMismatch           ErrKind = "TypeMismatch"
	ErrStratumViolation       ErrKind = "StratumViolation"
	ErrVerdictCollision       ErrKind = "VerdictCollision"
	ErrUnreachableState       ErrKind = "UnreachableState"
	ErrInvalidTransition      ErrKind = "InvalidTransition"
	ErrFlowCycle              ErrKind = "FlowCycle"
	ErrFlowDeadEnd            ErrKind = "FlowDeadEnd"
	ErrParallelBranchConflict ErrKind = "ParallelBranchConflict"
	ErrSyntax                 ErrKind = "SyntaxError"
)

// Evaluation error kinds.
const (
	ErrFactAbsent       ErrKind = "FactAbsent"
	ErrPredicate        ErrKind = "PredicateError"
	ErrCurrencyMismatch ErrKind = "CurrencyMismatch"
	ErrVariantMismatch  ErrKind = "VariantMismatch"
)

// Execution failure kinds. These are step-level outcomes caught by failure
// handlers, not Go errors.
const (
	FailPreconditionFailed  = "precondition_failed"
	FailPersonaRejected     = "persona_rejected"
	FailEntityStateMismatch = "entity_state_mismatch"
	FailTimeout             = "timeout"
	FailCancelled           = "cancelled"
)

// ElaborationError is one structured elaboration failure. Errors are batched
// per pass; any error aborts the pipeline before canonicalization.
type ElaborationError struct {
	Kind        ErrKind    `json:"kind"`
	Message     string     `json:"message"`
	ConstructID string     `json:"construct_id,omitempty"`
	Prov        Provenance `json:"provenance"`
}

func (e *ElaborationError) Error() string {
	if e.ConstructID != "" {
		return fmt.Sprintf("%s: %s (%s at %s)", e.Kind, e.Message, e.ConstructID, e.Prov)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Prov)
}

// ElaborationErrors batches the failures of a single pass.
type ElaborationErrors []*ElaborationError

func (es ElaborationErrors) Error() string {
	switch len(es) {
	case 0:
		return "no elaboration errors"
	case 1:
		return es[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more)", es[0].Error(), len(es)-1)
	}
}

// Severity grades findings and provenance notes.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Finding is one static-analysis result. Findings never block; the caller
// decides what an error-grade finding means for its workflow.
type Finding struct {
	ID          string     `json:"id,omitempty"` // deterministic, content-derived
	CheckID     string     `json:"rule_id"`      // s1..s8, s6_cross
	Severity    Severity   `json:"severity"`
	Message     string     `json:"message"`
	ConstructID string     `json:"construct_id,omitempty"`
	Prov        Provenance `json:"provenance"`
}

func (f *Finding) String() string {
	return fmt.Sprintf("[%s/%s] %s (%s)", f.CheckID, f.Severity, f.Message, f.Prov)
}
