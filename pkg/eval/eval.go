// Package eval implements the stratified rule evaluator: a bottom-up pass
// over rule strata producing the verdict set for a snapshot of facts. The
// evaluator is pure — identical (bundle, facts) inputs yield a
// byte-identical verdict set — and rule order within a stratum is not
// observable.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/riverline-labs/tenor/core/pkg/canonicalize"
	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/value"
)

const tracerName = "tenor/eval"

var verdictNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://tenor.dev/verdicts"))

// FactSet maps fact ids to resolved values. Facts carrying declared
// defaults may be omitted; anything else omitted is absent.
type FactSet map[string]*contracts.Value

// FactAbsentPolicy selects how a predicate touching an absent fact behaves.
type FactAbsentPolicy int

const (
	// FactAbsentAsFalse falsifies the referring predicate and records an
	// info-grade note. The default.
	FactAbsentAsFalse FactAbsentPolicy = iota
	// FactAbsentWarn falsifies the predicate and records a warning.
	FactAbsentWarn
)

// Verdict is one produced verdict with its provenance.
type Verdict struct {
	ID         string           `json:"id"`
	Type       string           `json:"verdict_type"`
	Payload    *contracts.Value `json:"payload,omitempty"`
	Provenance VerdictProvenance `json:"provenance"`
}

// VerdictProvenance records what a rule consulted to produce its verdict.
type VerdictProvenance struct {
	RuleID       string   `json:"rule_id"`
	FactsRead    []string `json:"facts_read,omitempty"`
	VerdictsRead []string `json:"verdicts_read,omitempty"`
}

// Note is a warning- or info-grade provenance entry recorded during
// evaluation: absent facts, predicate errors, currency mismatches. Notes
// never halt evaluation of other rules.
type Note struct {
	Severity contracts.Severity `json:"severity"`
	Kind     contracts.ErrKind  `json:"kind"`
	RuleID   string             `json:"rule_id"`
	Message  string             `json:"message"`
}

// Snapshot is the evaluation result: the verdict set plus its notes. Flows
// freeze a Snapshot at initiation and never recompute it.
type Snapshot struct {
	Verdicts []*Verdict `json:"verdicts"`
	Notes    []*Note    `json:"notes,omitempty"`

	byType map[string]*Verdict
}

// Present reports whether a verdict of the given type was produced.
func (s *Snapshot) Present(verdictType string) bool {
	_, ok := s.byType[verdictType]
	return ok
}

// Get returns the verdict of the given type, or nil.
func (s *Snapshot) Get(verdictType string) *Verdict {
	return s.byType[verdictType]
}

func (s *Snapshot) index() {
	s.byType = make(map[string]*Verdict, len(s.Verdicts))
	for _, v := range s.Verdicts {
		s.byType[v.Type] = v
	}
}

// Evaluator evaluates rules over fact sets.
type Evaluator struct {
	policy FactAbsentPolicy
	log    *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithFactAbsentPolicy overrides the absent-fact behavior.
func WithFactAbsentPolicy(p FactAbsentPolicy) Option {
	return func(e *Evaluator) { e.policy = p }
}

// WithLogger installs a logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.log = l
		}
	}
}

// New constructs an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{policy: FactAbsentAsFalse, log: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate runs every rule, stratum by stratum, and returns the snapshot.
// A rule whose predicate errs produces no verdict and a note; other rules
// are unaffected.
func (e *Evaluator) Evaluate(ctx context.Context, b *contracts.Bundle, facts FactSet) (*Snapshot, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("tenor.contract", b.ContractID))

	snap := &Snapshot{}
	snap.index()

	byStratum := map[int][]*contracts.Rule{}
	var strata []int
	for _, r := range b.Rules() {
		if _, seen := byStratum[r.Stratum]; !seen {
			strata = append(strata, r.Stratum)
		}
		byStratum[r.Stratum] = append(byStratum[r.Stratum], r)
	}
	sort.Ints(strata)

	for _, stratum := range strata {
		rules := byStratum[stratum]
		// Rules within a stratum only see strictly lower strata, so their
		// order is unobservable; id order keeps the output byte-stable.
		sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

		produced := make([]*Verdict, 0, len(rules))
		for _, r := range rules {
			v, notes := e.evalRule(b, r, facts, snap)
			snap.Notes = append(snap.Notes, notes...)
			if v != nil {
				produced = append(produced, v)
			}
		}
		// Publish the stratum's verdicts only after the stratum completes.
		snap.Verdicts = append(snap.Verdicts, produced...)
		snap.index()
		e.log.DebugContext(ctx, "stratum complete", "stratum", stratum, "verdicts", len(produced))
	}
	return snap, nil
}

func (e *Evaluator) evalRule(b *contracts.Bundle, r *contracts.Rule, facts FactSet, lower *Snapshot) (*Verdict, []*Note) {
	env := &env{bundle: b, facts: facts, snapshot: lower, policy: e.policy, ruleID: r.ID}

	ok, err := env.evalBool(r.When)
	if err != nil {
		if verr, typed := err.(*value.Error); typed && verr.Kind == contracts.ErrFactAbsent {
			// Absent fact falsifies the predicate; the policy only grades
			// the note.
			sev := contracts.SeverityInfo
			if e.policy == FactAbsentWarn {
				sev = contracts.SeverityWarning
			}
			return nil, append(env.notes, &Note{
				Severity: sev, Kind: contracts.ErrFactAbsent, RuleID: r.ID, Message: verr.Message,
			})
		}
		return nil, append(env.notes, noteFromError(r.ID, err))
	}
	if !ok {
		return nil, env.notes
	}

	var payload *contracts.Value
	if r.Produce.Payload != nil {
		payload, err = env.eval(r.Produce.Payload)
		if err != nil {
			return nil, append(env.notes, noteFromError(r.ID, err))
		}
		if r.Produce.PayloadType != nil {
			if cerr := value.Conforms(payload, r.Produce.PayloadType); cerr != nil {
				return nil, append(env.notes, noteFromError(r.ID, cerr))
			}
		}
	}

	v := &Verdict{
		Type:    r.Produce.VerdictType,
		Payload: payload,
		Provenance: VerdictProvenance{
			RuleID:       r.ID,
			FactsRead:    env.factsRead,
			VerdictsRead: env.verdictsRead,
		},
	}
	hash, herr := canonicalize.CanonicalHash(v)
	if herr != nil {
		return nil, append(env.notes, noteFromError(r.ID, herr))
	}
	v.ID = uuid.NewSHA1(verdictNamespace, []byte(hash)).String()
	return v, env.notes
}

func noteFromError(ruleID string, err error) *Note {
	kind := contracts.ErrPredicate
	if verr, ok := err.(*value.Error); ok {
		kind = verr.Kind
	}
	return &Note{
		Severity: contracts.SeverityWarning,
		Kind:     kind,
		RuleID:   ruleID,
		Message:  fmt.Sprintf("rule %q produced no verdict: %v", ruleID, err),
	}
}
