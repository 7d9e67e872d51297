package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/cadence/pkg/lifecycle"
	"github.com/cuemby/cadence/pkg/replay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "data", "cadence.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func version(id, kind string, values ...float64) *lifecycle.ModelVersion {
	names := make([]string, len(values))
	for i := range values {
		names[i] = string(rune('a' + i))
	}
	return &lifecycle.ModelVersion{
		ID:        id,
		Kind:      kind,
		Weights:   lifecycle.MustWeights(names, values),
		Accuracy:  0.96,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestModelRecords(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetModel(lifecycle.KindAssignment)
	assert.True(t, IsNotFound(err))

	rec := ModelRecord{
		Kind:     lifecycle.KindAssignment,
		Active:   version("v2", lifecycle.KindAssignment, 0.4, 0.3, 0.2, 0.1),
		Previous: version("v1", lifecycle.KindAssignment, 0.25, 0.25, 0.25, 0.25),
	}
	require.NoError(t, store.SaveModel(rec))

	got, err := store.GetModel(lifecycle.KindAssignment)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Active.ID)
	assert.True(t, rec.Active.Weights.Equal(got.Active.Weights))
	require.NotNil(t, got.Previous)
	assert.Equal(t, "v1", got.Previous.ID)
	assert.True(t, rec.Active.CreatedAt.Equal(got.Active.CreatedAt))

	require.NoError(t, store.SaveModel(ModelRecord{
		Kind:   lifecycle.KindOrdering,
		Active: version("o1", lifecycle.KindOrdering, 0.2, 0.25, 0.15, 0.2, 0.2),
	}))
	all, err := store.ListModels()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.Error(t, store.SaveModel(ModelRecord{Kind: "empty"}))
}

func TestVersionHistory(t *testing.T) {
	store := newTestStore(t)
	for _, id := range []string{"v1", "v2", "v3", "v4"} {
		require.NoError(t, store.AppendVersion(version(id, lifecycle.KindOrdering, 1, 1)))
	}
	require.NoError(t, store.AppendVersion(version("a1", lifecycle.KindAssignment, 1, 1)))

	versions, err := store.ListVersions(lifecycle.KindOrdering)
	require.NoError(t, err)
	require.Len(t, versions, 4)
	assert.Equal(t, "v1", versions[0].ID)
	assert.Equal(t, "v4", versions[3].ID)

	removed, err := store.PruneVersions(lifecycle.KindOrdering, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	versions, err = store.ListVersions(lifecycle.KindOrdering)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "v3", versions[0].ID)

	removed, err = store.PruneVersions(lifecycle.KindOrdering, 5)
	require.NoError(t, err)
	assert.Zero(t, removed)

	versions, err = store.ListVersions("unknown")
	require.NoError(t, err)
	assert.Empty(t, versions)

	assert.Error(t, store.AppendVersion(nil))
}

func TestExperiences(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadExperiences("balancer")
	assert.True(t, IsNotFound(err))

	exps := []replay.Experience{
		{PredictedAction: "v1", Features: []float64{0.5, 0.9, 0.8, 1}, Outcome: replay.Outcome{Latency: 40, Load: 0.3, Success: true}},
		{PredictedAction: "v2", Features: []float64{0.1, 0.2, 0.3, 0.4}, Outcome: replay.Outcome{Latency: 700, Load: 0.9}},
	}
	require.NoError(t, store.SaveExperiences("balancer", exps))

	got, err := store.LoadExperiences("balancer")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "v2", got[1].PredictedAction)
	assert.Equal(t, exps[0].Features, got[0].Features)
	assert.Equal(t, exps[1].Outcome, got[1].Outcome)

	require.NoError(t, store.SaveExperiences("balancer", nil))
	got, err = store.LoadExperiences("balancer")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadence.db")
	store, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveModel(ModelRecord{
		Kind:   lifecycle.KindOrdering,
		Active: version("o1", lifecycle.KindOrdering, 1, 2),
	}))
	assert.Equal(t, path, store.Path())
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.GetModel(lifecycle.KindOrdering)
	require.NoError(t, err)
	assert.Equal(t, "o1", rec.Active.ID)
	assert.InDelta(t, 2.0/3.0, rec.Active.Weights.Get("b"), 1e-12)
}
