package explain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/elaborate"
	"github.com/riverline-labs/tenor/core/pkg/parser"
)

const src = `
contract explained

persona approver

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
    on success -> end(activated)
    on failure terminate(failed)
  }
}
`

func buildBundle(t *testing.T) *contracts.Bundle {
	t.Helper()
	e := elaborate.New(elaborate.WithLoader(parser.MapLoader{"e.tenor": src}))
	b, err := e.Elaborate(context.Background(), "e.tenor")
	require.NoError(t, err)
	return b
}

func TestBundleSummary(t *testing.T) {
	b := buildBundle(t)
	s, err := Bundle(b)
	require.NoError(t, err)

	assert.Equal(t, "explained", s.ContractID)
	assert.Len(t, s.Etag, 64)

	titles := make([]string, len(s.Sections))
	for i, sec := range s.Sections {
		titles[i] = sec.Title
	}
	assert.Equal(t, []string{"facts", "personas", "entities", "rules", "operations", "flows"}, titles)

	text := s.String()
	assert.Contains(t, text, "seats_ok")
	assert.Contains(t, text, "trial -> active")
	assert.Contains(t, text, "seats ≤ limit")
	assert.Contains(t, text, "s1: operation activate by approver")
}

func TestBundleSummary_Deterministic(t *testing.T) {
	b := buildBundle(t)
	s1, err := Bundle(b)
	require.NoError(t, err)
	s2, err := Bundle(b)
	require.NoError(t, err)
	assert.Equal(t, s1.String(), s2.String())
}

func TestPredicateRendering(t *testing.T) {
	e := &contracts.Expr{
		Kind: contracts.ExprNot,
		Args: []*contracts.Expr{{
			Kind: contracts.ExprCompare,
			Op:   contracts.OpGe,
			Left: &contracts.Expr{Kind: contracts.ExprFactRef, Ref: "a"},
			Right: &contracts.Expr{
				Kind: contracts.ExprField,
				Recv: &contracts.Expr{Kind: contracts.ExprFactRef, Ref: "b"},
				FieldName: "limit",
			},
		}},
	}
	assert.Equal(t, "¬a ≥ b.limit", Predicate(e))
}
