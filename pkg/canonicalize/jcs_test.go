package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/core/pkg/contracts"
)

func TestJCS_SortsKeysAndStripsWhitespace(t *testing.T) {
	out, err := JCS(map[string]any{"zeta": 1, "alpha": []any{"b", "a"}, "mid": map[string]any{"y": 2, "x": 1}})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":["b","a"],"mid":{"x":1,"y":2},"zeta":1}`, string(out))
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	out, err := JCS(map[string]any{"s": "<a>&</a>"})
	require.NoError(t, err)
	assert.Equal(t, `{"s":"<a>&</a>"}`, string(out))
}

func TestCanonicalHash_Stable(t *testing.T) {
	v := map[string]any{"b": 2, "a": 1}
	h1, err := CanonicalHash(v)
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestEtag_IgnoresAssemblyOrder(t *testing.T) {
	prov := contracts.Provenance{File: "x.tenor", Line: 1}
	p1 := &contracts.Persona{ID: "alpha", Prov: prov}
	p2 := &contracts.Persona{ID: "beta", Prov: prov}

	a := contracts.NewBundle("c", []contracts.Construct{p1, p2})
	b := contracts.NewBundle("c", []contracts.Construct{p2, p1})

	ea, err := Etag(a)
	require.NoError(t, err)
	eb, err := Etag(b)
	require.NoError(t, err)
	assert.Equal(t, ea, eb)
}
