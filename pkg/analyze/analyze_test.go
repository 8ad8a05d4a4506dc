package analyze

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/elaborate"
	"github.com/riverline-labs/tenor/core/pkg/parser"
)

func build(t *testing.T, src string) *contracts.Bundle {
	t.Helper()
	e := elaborate.New(elaborate.WithLoader(parser.MapLoader{"t.tenor": src}))
	b, err := e.Elaborate(context.Background(), "t.tenor")
	require.NoError(t, err)
	return b
}

func findingsFor(findings []*contracts.Finding, check string) []*contracts.Finding {
	var out []*contracts.Finding
	for _, f := range findings {
		if f.CheckID == check {
			out = append(out, f)
		}
	}
	return out
}

const wellFormedSrc = `
contract sample

persona clerk
persona manager

fact amount: int = 5

entity Order {
  states: new, paid
  initial: new
  transitions: new -> paid
}

rule small @0 { when amount ≤ 10 produce small }

operation pay {
  personas: clerk
  precondition: verdict_present(small)
  effects: Order new -> paid
}

operation audit_only {
  personas: manager
  effects: Order new -> paid
}

flow payment {
  entry s1
  step s1: operation pay by clerk {
    on success -> end(paid)
    on failure terminate(failed)
  }
}
`

func TestAnalyze_WellFormedBundle(t *testing.T) {
	b := build(t, wellFormedSrc)
	findings := New().Analyze(context.Background(), b)

	s1 := findingsFor(findings, "s1")
	require.Len(t, s1, 1)
	assert.Equal(t, contracts.SeverityInfo, s1[0].Severity)
	assert.Contains(t, s1[0].Message, "2 states")

	assert.Empty(t, findingsFor(findings, "s2"))
	assert.Empty(t, findingsFor(findings, "s3"))
	assert.Empty(t, findingsFor(findings, "s5"))

	s4 := findingsFor(findings, "s4")
	require.Len(t, s4, 2, "one authority row per persona")

	s6 := findingsFor(findings, "s6")
	require.NotEmpty(t, s6)
	assert.Contains(t, s6[0].Message, "1 distinct success paths")

	s7 := findingsFor(findings, "s7")
	require.Len(t, s7, 1, "audit_only is never invoked")
	assert.Equal(t, "audit_only", s7[0].ConstructID)
	assert.Equal(t, contracts.SeverityWarning, s7[0].Severity)
}

func TestAnalyze_FindingIDsDeterministic(t *testing.T) {
	b := build(t, wellFormedSrc)
	f1 := New().Analyze(context.Background(), b)
	f2 := New().Analyze(context.Background(), b)
	require.Equal(t, len(f1), len(f2))
	for i := range f1 {
		assert.Equal(t, f1[i].ID, f2[i].ID)
	}
}

// Hand-assembled bundles bypass elaboration, which is exactly what the
// analyzer re-checks guard against.
func TestAnalyze_HandAssembledViolations(t *testing.T) {
	prov := contracts.Provenance{File: "hand.tenor", Line: 1}
	b := contracts.NewBundle("hand", []contracts.Construct{
		&contracts.Entity{
			ID:     "Broken",
			States: []string{"a", "b", "ghost_target"},
			Initial: "a",
			Transitions: []contracts.Transition{
				{From: "a", To: "b"},
				{From: "b", To: "missing"},
			},
			Prov: prov,
		},
		&contracts.Rule{
			ID: "r1", Stratum: 0,
			When:    &contracts.Expr{Kind: contracts.ExprLiteral, Literal: contracts.BoolValue(true), Prov: prov},
			Produce: contracts.Produce{VerdictType: "dup"},
			Prov:    prov,
		},
		&contracts.Rule{
			ID: "r2", Stratum: 0,
			When:    &contracts.Expr{Kind: contracts.ExprLiteral, Literal: contracts.BoolValue(true), Prov: prov},
			Produce: contracts.Produce{VerdictType: "dup"},
			Prov:    prov,
		},
		&contracts.Rule{
			ID: "r3", Stratum: 1,
			When:    &contracts.Expr{Kind: contracts.ExprVerdictPresent, VerdictType: "nobody_makes_this", Prov: prov},
			Produce: contracts.Produce{VerdictType: "other"},
			Prov:    prov,
		},
	})
	findings := New().Analyze(context.Background(), b)

	s2 := findingsFor(findings, "s2")
	require.Len(t, s2, 1)
	assert.Contains(t, s2[0].Message, "ghost_target")

	s3 := findingsFor(findings, "s3")
	require.Len(t, s3, 1)
	assert.Contains(t, s3[0].Message, "missing")

	s5 := findingsFor(findings, "s5")
	require.Len(t, s5, 1)
	assert.Equal(t, contracts.SeverityError, s5[0].Severity)

	s8 := findingsFor(findings, "s8")
	require.Len(t, s8, 1)
	assert.Contains(t, s8[0].Message, "nobody_makes_this")
}

const systemASrc = `
contract a

persona runner

entity Job {
  states: idle, running
  initial: idle
  transitions: idle -> running
}

operation kick {
  personas: runner
  effects: Job idle -> running
}

flow flow1 {
  entry s1
  step s1: operation kick by runner {
    on success -> end(success)
    on failure terminate(failed)
  }
}

system pipeline {
  members: a, b
  shared personas: runner
  trigger a.flow1 on success -> b.flow2 by runner
}
`

const systemBSrc = `
contract b

persona runner

entity Task {
  states: idle, busy
  initial: idle
  transitions: idle -> busy
}

operation go {
  personas: runner
  effects: Task idle -> busy
}

flow flow2 {
  entry s1
  step s1: operation go by runner {
    on success -> end(done)
    on failure terminate(failed)
  }
}
`

func TestAnalyze_CrossContractTrigger(t *testing.T) {
	a := build(t, systemASrc)
	b := build(t, systemBSrc)

	findings := New(WithMemberBundles(map[string]*contracts.Bundle{"b": b})).
		Analyze(context.Background(), a)

	cross := findingsFor(findings, "s6_cross")
	require.NotEmpty(t, cross)

	var infos, errors int
	for _, f := range cross {
		switch f.Severity {
		case contracts.SeverityInfo:
			infos++
		case contracts.SeverityError:
			errors++
		}
	}
	assert.Equal(t, 2, infos, "trigger edge plus acyclicity summary")
	assert.Zero(t, errors)
}

func TestAnalyze_CrossContractMissingPersona(t *testing.T) {
	a := build(t, systemASrc)
	// b declares no runner persona this time.
	bSrc := `
contract b
persona someone_else
entity Task { states: idle, busy  initial: idle  transitions: idle -> busy }
operation go { personas: someone_else  effects: Task idle -> busy }
flow flow2 {
  entry s1
  step s1: operation go by someone_else { on success -> end(done) on failure terminate(failed) }
}
`
	b := build(t, bSrc)
	findings := New(WithMemberBundles(map[string]*contracts.Bundle{"b": b})).
		Analyze(context.Background(), a)

	var sawError bool
	for _, f := range findingsFor(findings, "s6_cross") {
		if f.Severity == contracts.SeverityError {
			sawError = true
			assert.Contains(t, f.Message, "runner")
		}
	}
	assert.True(t, sawError)
}

func TestAnalyze_TriggerCycle(t *testing.T) {
	prov := contracts.Provenance{File: "sys.tenor", Line: 1}
	b := contracts.NewBundle("a", []contracts.Construct{
		&contracts.System{
			ID:      "loop",
			Members: []string{"a", "b"},
			Triggers: []contracts.Trigger{
				{FromContract: "a", FromFlow: "f1", Outcome: "success", ToContract: "b", ToFlow: "f2", Persona: "p"},
				{FromContract: "b", FromFlow: "f2", Outcome: "success", ToContract: "a", ToFlow: "f1", Persona: "p"},
			},
			Prov: prov,
		},
	})
	findings := New().Analyze(context.Background(), b)

	var sawCycle bool
	for _, f := range findingsFor(findings, "s6_cross") {
		if f.Severity == contracts.SeverityError {
			sawCycle = true
			assert.Contains(t, f.Message, "cycle")
		}
	}
	assert.True(t, sawCycle)
}
