package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/elaborate"
	"github.com/riverline-labs/tenor/core/pkg/eval"
)

// Scenario fixtures pair a contract source with inputs and the expected
// flow result, so new executor behavior can be pinned without new Go code.
type scenarioFile struct {
	Scenarios []scenario `yaml:"scenarios"`
}

type scenario struct {
	Name     string               `yaml:"name"`
	Contract string               `yaml:"contract"`
	Flow     string               `yaml:"flow"`
	Persona  string               `yaml:"persona"`
	Facts    map[string]factValue `yaml:"facts"`
	Expect   expectation          `yaml:"expect"`
}

type factValue struct {
	Int  *int64  `yaml:"int"`
	Bool *bool   `yaml:"bool"`
	Text *string `yaml:"text"`
}

type expectation struct {
	Outcome string           `yaml:"outcome"`
	Failed  bool             `yaml:"failed"`
	Changes []expectedChange `yaml:"changes"`
}

type expectedChange struct {
	Entity string `yaml:"entity"`
	From   string `yaml:"from"`
	To     string `yaml:"to"`
}

func (fv factValue) value() *contracts.Value {
	switch {
	case fv.Int != nil:
		return contracts.IntValue(*fv.Int)
	case fv.Bool != nil:
		return contracts.BoolValue(*fv.Bool)
	case fv.Text != nil:
		return contracts.TextValue(*fv.Text)
	default:
		return nil
	}
}

func TestScenarios(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("testdata", "scenarios.yaml"))
	require.NoError(t, err)
	var file scenarioFile
	require.NoError(t, yaml.Unmarshal(raw, &file))
	require.NotEmpty(t, file.Scenarios)

	for _, sc := range file.Scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			e := elaborate.New()
			b, err := e.Elaborate(context.Background(), filepath.Join("testdata", sc.Contract))
			require.NoError(t, err)

			facts := eval.FactSet{}
			for id, fv := range sc.Facts {
				facts[id] = fv.value()
			}

			res, err := New().ExecuteFlow(context.Background(), b, sc.Flow, sc.Persona,
				facts, EntityStateMap{}, nil)
			require.NoError(t, err)

			assert.Equal(t, sc.Expect.Outcome, res.Outcome)
			assert.Equal(t, sc.Expect.Failed, res.Failed)
			require.Len(t, res.StateChanges, len(sc.Expect.Changes))
			for i, want := range sc.Expect.Changes {
				assert.Equal(t, want.Entity, res.StateChanges[i].Entity)
				assert.Equal(t, want.From, res.StateChanges[i].From)
				assert.Equal(t, want.To, res.StateChanges[i].To)
			}
		})
	}
}
