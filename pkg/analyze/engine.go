// Package analyze derives the static properties of an elaborated bundle and
// reports them as findings. The analyzer is an engine of registered checks
// run in a fixed order; it never mutates the bundle and never blocks — the
// caller decides what error-grade findings mean.
package analyze

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
)

const tracerName = "tenor/analyze"

// findingNamespace scopes the deterministic finding ids.
var findingNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://tenor.dev/findings"))

// Check computes one property over a bundle and reports findings.
type Check interface {
	ID() string
	Run(a *Analysis)
}

// Analysis is the working context handed to checks.
type Analysis struct {
	Bundle *contracts.Bundle
	// Members holds sibling bundles by contract id for cross-contract
	// checks. The bundle under analysis is always present.
	Members map[string]*contracts.Bundle

	check    string
	findings []*contracts.Finding
}

// Report records one finding for the running check. Finding ids are
// deterministic: derived from the check, construct, and message.
func (a *Analysis) Report(sev contracts.Severity, constructID string, prov contracts.Provenance, message string) {
	f := &contracts.Finding{
		CheckID:     a.check,
		Severity:    sev,
		Message:     message,
		ConstructID: constructID,
		Prov:        prov,
	}
	f.ID = uuid.NewSHA1(findingNamespace, []byte(a.check+"\x00"+constructID+"\x00"+message)).String()
	a.findings = append(a.findings, f)
}

// Analyzer runs the registered checks in registration order.
type Analyzer struct {
	checks  []Check
	members map[string]*contracts.Bundle
	log     *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithMemberBundles supplies sibling contracts for system trigger
// validation, keyed by contract id.
func WithMemberBundles(members map[string]*contracts.Bundle) Option {
	return func(a *Analyzer) {
		for id, b := range members {
			a.members[id] = b
		}
	}
}

// WithLogger installs a logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.log = l
		}
	}
}

// New constructs an Analyzer with the standard property checks registered.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		members: map[string]*contracts.Bundle{},
		log:     slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(a)
	}
	a.checks = []Check{
		stateEnumeration{},    // s1
		stateReachability{},   // s2
		transitionEndpoints{}, // s3
		authorityTopology{},   // s4
		verdictUniqueness{},   // s5
		flowPaths{},           // s6
		effectReachability{},  // s7
		verdictClosure{},      // s8
		crossContract{},       // s6_cross
	}
	return a
}

// Analyze runs every check and returns the ordered findings.
func (a *Analyzer) Analyze(ctx context.Context, b *contracts.Bundle) []*contracts.Finding {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "analyze")
	defer span.End()
	span.SetAttributes(attribute.String("tenor.contract", b.ContractID))

	run := &Analysis{Bundle: b, Members: map[string]*contracts.Bundle{b.ContractID: b}}
	for id, m := range a.members {
		run.Members[id] = m
	}
	for _, c := range a.checks {
		run.check = c.ID()
		before := len(run.findings)
		c.Run(run)
		a.log.DebugContext(ctx, "check complete", "check", c.ID(), "findings", len(run.findings)-before)
	}
	return run.findings
}

// sortedFlowSteps returns a flow's steps in id order for deterministic
// traversal.
func sortedFlowSteps(steps map[string]*contracts.Step) []*contracts.Step {
	ids := make([]string, 0, len(steps))
	for id := range steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*contracts.Step, len(ids))
	for i, id := range ids {
		out[i] = steps[id]
	}
	return out
}
