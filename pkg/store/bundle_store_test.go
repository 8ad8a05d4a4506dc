package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/core/pkg/canonicalize"
	"github.com/riverline-labs/tenor/core/pkg/contracts"
	"github.com/riverline-labs/tenor/core/pkg/elaborate"
	"github.com/riverline-labs/tenor/core/pkg/parser"
)

func buildBundle(t *testing.T, src string) *contracts.Bundle {
	t.Helper()
	e := elaborate.New(elaborate.WithLoader(parser.MapLoader{"s.tenor": src}))
	b, err := e.Elaborate(context.Background(), "s.tenor")
	require.NoError(t, err)
	return b
}

func openStore(t *testing.T) *BundleStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bundles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openStore(t)
	b := buildBundle(t, "contract one\nfact n: int = 1\nrule r @0 { when n = 1 produce v }\n")
	ctx := context.Background()

	etag, err := s.Put(ctx, b)
	require.NoError(t, err)
	want, err := canonicalize.Etag(b)
	require.NoError(t, err)
	assert.Equal(t, want, etag)

	got, err := s.Get(ctx, etag)
	require.NoError(t, err)
	assert.Equal(t, b.ContractID, got.ContractID)

	gotEtag, err := canonicalize.Etag(got)
	require.NoError(t, err)
	assert.Equal(t, etag, gotEtag, "content addressing survives the round trip")
}

func TestPutIsIdempotent(t *testing.T) {
	s := openStore(t)
	b := buildBundle(t, "contract one\npersona p\n")
	ctx := context.Background()

	etag1, err := s.Put(ctx, b)
	require.NoError(t, err)
	etag2, err := s.Put(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, etag1, etag2)

	etags, err := s.List(ctx, "one")
	require.NoError(t, err)
	assert.Len(t, etags, 1)
}

func TestListAndDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	b1 := buildBundle(t, "contract c\npersona p\n")
	b2 := buildBundle(t, "contract c\npersona p\npersona q\n")
	etag1, err := s.Put(ctx, b1)
	require.NoError(t, err)
	etag2, err := s.Put(ctx, b2)
	require.NoError(t, err)
	require.NotEqual(t, etag1, etag2)

	etags, err := s.List(ctx, "c")
	require.NoError(t, err)
	assert.Len(t, etags, 2)

	require.NoError(t, s.Delete(ctx, etag1))
	_, err = s.Get(ctx, etag1)
	require.ErrorIs(t, err, ErrNotFound)

	etags, err = s.List(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{etag2}, etags)

	require.NoError(t, s.Delete(ctx, etag1), "deleting twice is not an error")
}

func TestGet_Missing(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(context.Background(), "no-such-etag")
	require.ErrorIs(t, err, ErrNotFound)
}
