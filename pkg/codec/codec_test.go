package codec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/core/pkg/canonicalize"
	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/elaborate"
	"github.com/riverline-labs/tenor/core/pkg/parser"
)

const fixtureSrc = `
contract codec_fixture

persona operator

fact amount: money(USD) = 25.00 USD
fact level: enum(low, high) = "low"

entity Ticket {
  states: open, closed
  initial: open
  transitions: open -> closed
}

rule cheap @0 {
  when amount ≤ 100.00 USD
  produce cheap
}

operation close {
  personas: operator
  precondition: verdict_present(cheap)
  effects: Ticket open -> closed
}

flow closing {
  entry s1
  step s1: operation close by operator {
    on success -> end(closed)
    on failure terminate(stuck)
  }
}
`

func fixtureBundle(t *testing.T) *contracts.Bundle {
	t.Helper()
	e := elaborate.New(elaborate.WithLoader(parser.MapLoader{"f.tenor": fixtureSrc}))
	b, err := e.Elaborate(context.Background(), "f.tenor")
	require.NoError(t, err)
	return b
}

func TestRoundTrip(t *testing.T) {
	b := fixtureBundle(t)

	data, err := Encode(b)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, b.ContractID, decoded.ContractID)
	assert.Len(t, decoded.Constructs, len(b.Constructs))

	reencoded, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(reencoded), "encode(decode(bs)) == bs")

	stable, err := RoundTripStable(data)
	require.NoError(t, err)
	assert.True(t, stable)
}

func TestDecode_EtagSurvivesRoundTrip(t *testing.T) {
	b := fixtureBundle(t)
	etag1, err := canonicalize.Etag(b)
	require.NoError(t, err)

	data, err := Encode(b)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	etag2, err := canonicalize.Etag(decoded)
	require.NoError(t, err)
	assert.Equal(t, etag1, etag2)
}

func TestDecode_RejectsNonBundles(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"id":`,
		"wrong kind":      `{"id":"x","kind":"Flow","tenor":"1.x","tenor_version":"1.0.0","contract_id":"x","constructs":[]}`,
		"missing fields":  `{"id":"x","kind":"Bundle"}`,
		"unknown construct": `{"id":"x","kind":"Bundle","tenor":"1.x","tenor_version":"1.0.0","contract_id":"x","constructs":[{"id":"c","kind":"Gizmo","provenance":{"file":"f","line":1}}]}`,
	}
	for name, payload := range cases {
		_, err := Decode([]byte(payload))
		require.Error(t, err, name)
		var derr *DecodeError
		require.ErrorAs(t, err, &derr, name)
	}
}

func TestCheckVersion_Window(t *testing.T) {
	require.NoError(t, CheckVersion("1.0.0"))
	require.NoError(t, CheckVersion("1.7.3"), "newer minors within the major are accepted")
	require.Error(t, CheckVersion("2.0.0"), "higher majors rejected")
	require.Error(t, CheckVersion("0.9.0"), "lower majors rejected")
	require.Error(t, CheckVersion("not-a-version"))
}

func TestCheckVersion_SameMajorDowngradeRejected(t *testing.T) {
	// A build whose floor is 1.3 must reject same-major bundles below it.
	floor := semver.MustParse("1.3.0")
	require.NoError(t, checkVersionAgainst(floor, "1.3.0"))
	require.NoError(t, checkVersionAgainst(floor, "1.4.2"))

	err := checkVersionAgainst(floor, "1.2.9")
	require.Error(t, err)
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "downgraded tenor_version", derr.Reason)
}

func TestDecode_RejectsOtherMajor(t *testing.T) {
	b := fixtureBundle(t)
	data, err := Encode(b)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["tenor_version"] = json.RawMessage(`"2.0.0"`)
	bumped, err := json.Marshal(raw)
	require.NoError(t, err)

	_, err = Decode(bumped)
	require.Error(t, err)
}

// Property: the etag does not depend on construct assembly order.
func TestEtag_OrderIndependent(t *testing.T) {
	b := fixtureBundle(t)
	want, err := canonicalize.Etag(b)
	require.NoError(t, err)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("etag stable under construct shuffling", prop.ForAll(
		func(seed int64) bool {
			shuffled := contracts.NewBundle(b.ContractID, shuffle(b.Constructs, seed))
			etag, err := canonicalize.Etag(shuffled)
			return err == nil && etag == want
		},
		gen.Int64(),
	))
	properties.TestingRun(t)
}

func shuffle(cs []contracts.Construct, seed int64) []contracts.Construct {
	out := append([]contracts.Construct(nil), cs...)
	state := uint64(seed)
	for i := len(out) - 1; i > 0; i-- {
		state = state*6364136223846793005 + 1442695040888963407
		j := int(state % uint64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}
