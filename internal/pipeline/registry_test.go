package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rerankd/internal/logging"
)

func newTestRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	t.Helper()
	r, err := NewRegistry(newTestFactories(t, reverseScorer{}), logging.NewTestLogger().Logger, opts...)
	require.NoError(t, err)
	return r
}

func sampleDefinition(t *testing.T) *Definition {
	t.Helper()
	return &Definition{
		Description: "rerank then truncate",
		ResponseProcessors: []ProcessorSpec{
			rerankSpec(t),
			{Type: TypeTruncateHits, Config: json.RawMessage(`{"target_size":3}`)},
		},
	}
}

func TestRegistryPutAndGet(t *testing.T) {
	r := newTestRegistry(t)

	stored, err := r.Put("search-default", sampleDefinition(t))
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
	assert.False(t, stored.UpdatedAt.IsZero())

	p, err := r.Get("search-default")
	require.NoError(t, err)
	assert.Equal(t, "search-default", p.Name())
	assert.Len(t, p.Definition().ResponseProcessors, 2)
}

func TestRegistryPutReplacesAndBumpsVersion(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Put("p", sampleDefinition(t))
	require.NoError(t, err)

	stored, err := r.Put("p", sampleDefinition(t))
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
}

func TestRegistryPutRejectsBadDefinition(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Put("p", &Definition{ResponseProcessors: []ProcessorSpec{{Type: "bogus"}}})
	require.ErrorIs(t, err, ErrUnknownProcessor)

	_, err = r.Get("p")
	require.ErrorIs(t, err, ErrUnknownPipeline)
}

func TestRegistryGetUnknown(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get("missing")
	require.ErrorIs(t, err, ErrUnknownPipeline)
}

func TestRegistryDelete(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Put("p", sampleDefinition(t))
	require.NoError(t, err)
	require.NoError(t, r.Delete("p"))

	_, err = r.Get("p")
	require.ErrorIs(t, err, ErrUnknownPipeline)
	require.ErrorIs(t, r.Delete("p"), ErrUnknownPipeline)
}

func TestRegistryListAndNames(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Put("beta", sampleDefinition(t))
	require.NoError(t, err)
	_, err = r.Put("alpha", sampleDefinition(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta"}, r.Names())

	defs := r.List()
	require.Len(t, defs, 2)
	assert.Equal(t, "rerank then truncate", defs["alpha"].Description)
}

func TestRegistryPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	r := newTestRegistry(t, WithStore(store))
	_, err = r.Put("persisted", sampleDefinition(t))
	require.NoError(t, err)

	reloaded := newTestRegistry(t, WithStore(store))
	p, err := reloaded.Get("persisted")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Definition().Version)
	assert.Len(t, p.Definition().ResponseProcessors, 2)
}

func TestRegistryDeletePersists(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	r := newTestRegistry(t, WithStore(store))
	_, err = r.Put("p", sampleDefinition(t))
	require.NoError(t, err)
	require.NoError(t, r.Delete("p"))

	reloaded := newTestRegistry(t, WithStore(store))
	_, err = reloaded.Get("p")
	require.ErrorIs(t, err, ErrUnknownPipeline)
}

func TestStoreLoadMissingFile(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	defs, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, defs)
}
