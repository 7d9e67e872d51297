package main

import (
	"bytes"
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/cadence/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Cadence version dev")
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, []byte("batch:\n  min_batch: 1000\n"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("batch:\n  bogus: 1\n"), 0o644))

	out, err := execute(t, "config", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	_, err = execute(t, "config", "validate", bad)
	assert.Error(t, err)
}

func TestSimulationRun(t *testing.T) {
	cfg := config.Default()
	sim := simulation{steps: 60, targets: 3, nodes: 3, txPerStep: 10, rng: rand.New(rand.NewPCG(1, 2))}

	stats, err := sim.run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, uint64(600), stats.Ordering.Ordered)
	assert.Equal(t, uint64(600), stats.Balancer.TotalAssignments)
	assert.Equal(t, uint64(660), stats.Anomaly.Checked)
	assert.Equal(t, 3, stats.Consensus.TrackedNodes)
	assert.GreaterOrEqual(t, stats.Batch.CurrentBatch, cfg.Batch.MinBatch)
	assert.LessOrEqual(t, stats.Batch.CurrentBatch, cfg.Batch.MaxBatch)
	assert.Nil(t, stats.Replication)

	var out bytes.Buffer
	printStats(&out, stats)
	assert.Contains(t, out.String(), "Balancer")
	assert.Contains(t, out.String(), "ordering")
}
