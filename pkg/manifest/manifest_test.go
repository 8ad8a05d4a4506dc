package manifest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/elaborate"
	"github.com/riverline-labs/tenor/core/pkg/parser"
)

const src = `
contract envelope_fixture
persona admin
fact n: int = 1
rule ok @0 { when n = 1 produce ok }
`

func bundle(t *testing.T) *contracts.Bundle {
	t.Helper()
	e := elaborate.New(elaborate.WithLoader(parser.MapLoader{"m.tenor": src}))
	b, err := e.Elaborate(context.Background(), "m.tenor")
	require.NoError(t, err)
	return b
}

func TestBuildAndOpen(t *testing.T) {
	b := bundle(t)
	m, err := Build(b)
	require.NoError(t, err)
	assert.Equal(t, contracts.Tenor, m.Tenor)
	assert.Len(t, m.Etag, 64)

	data, err := json.Marshal(m)
	require.NoError(t, err)

	opened, decoded, err := Open(data)
	require.NoError(t, err)
	assert.Equal(t, m.Etag, opened.Etag)
	assert.Equal(t, b.ContractID, decoded.ContractID)
}

func TestOpen_TamperedEtagRejected(t *testing.T) {
	b := bundle(t)
	m, err := Build(b)
	require.NoError(t, err)
	m.Etag = "deadbeef" + m.Etag[8:]

	data, err := json.Marshal(m)
	require.NoError(t, err)
	_, _, err = Open(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etag mismatch")
}

func TestEnvelopeMetadataOutsideEtag(t *testing.T) {
	b := bundle(t)
	plain, err := Build(b)
	require.NoError(t, err)

	adorned, err := Build(b)
	require.NoError(t, err)
	adorned.WithCapabilities(Capabilities{MultiInstanceEntities: true, Simulation: true}).
		WithTrust(Trust{Scheme: "jws-eddsa-v1", KeyID: "k1", Signature: "sig"})

	assert.Equal(t, plain.Etag, adorned.Etag,
		"capabilities and trust never participate in bundle identity")

	data, err := json.Marshal(adorned)
	require.NoError(t, err)
	opened, _, err := Open(data)
	require.NoError(t, err)
	require.NotNil(t, opened.Capabilities)
	assert.True(t, opened.Capabilities.MultiInstanceEntities)
}
