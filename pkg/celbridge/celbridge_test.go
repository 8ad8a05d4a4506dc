package celbridge

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

const src = `
contract bridge_fixture

fact seats: int
fact limit: int = 10
fact name: text = "acme"
fact active: bool = true
fact items: list<int>

rule within @0 { when seats ≤ limit ∧ active produce within }
rule named @0 { when name = "acme" ∨ seats > 100 produce named }
rule all_pos @0 { when ∀ i ∈ items => i > 0 produce all_pos }
`

func fixture(t *testing.T) (*contracts.Bundle, *Bridge) {
	t.Helper()
	e := elaborate.New(elaborate.WithLoader(parser.MapLoader{"b.tenor": src}))
	b, err := e.Elaborate(context.Background(), "b.tenor")
	require.NoError(t, err)
	br, err := New(b)
	require.NoError(t, err)
	return b, br
}

func TestTranslate(t *testing.T) {
	b, br := fixture(t)

	src, err := br.Translate(b.Rule("within").When)
	require.NoError(t, err)
	assert.Equal(t, "((seats <= limit) && active)", src)

	src, err = br.Translate(b.Rule("named").When)
	require.NoError(t, err)
	assert.Equal(t, `((name == "acme") || (seats > 100))`, src)
}

func TestTranslate_QuantifierOutsideFragment(t *testing.T) {
	b, br := fixture(t)
	_, err := br.Translate(b.Rule("all_pos").When)
	require.ErrorIs(t, err, ErrUntranslatable)
}

func TestCrossCheck_Agreement(t *testing.T) {
	b, br := fixture(t)

	cases := []eval.FactSet{
		{"seats": contracts.IntValue(5)},
		{"seats": contracts.IntValue(50)},
		{"seats": contracts.IntValue(150), "name": contracts.TextValue("other")},
		{"seats": contracts.IntValue(3), "active": contracts.BoolValue(false)},
	}
	for _, facts := range cases {
		for _, ruleID := range []string{"within", "named"} {
			_, err := br.CrossCheck(b.Rule(ruleID).When, facts)
			require.NoError(t, err, "rule %s on %v", ruleID, facts)
		}
	}
}
