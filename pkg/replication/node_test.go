package replication

import (
	"testing"
	"time"

	"github.com/cuemby/cadence/pkg/consensus"
	"github.com/cuemby/cadence/pkg/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startNode(t *testing.T, models *lifecycle.Manager) *Node {
	t.Helper()
	advisor := consensus.NewAdvisor(consensus.DefaultConfig())
	n, err := NewNode(Config{
		NodeID:       "node-1",
		BindAddr:     "127.0.0.1:0",
		DataDir:      t.TempDir(),
		Bootstrap:    true,
		ApplyTimeout: 5 * time.Second,
		Timeout:      150 * time.Millisecond,
	}, NewFSM(models), advisor)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Shutdown() })

	require.Eventually(t, n.IsLeader, 10*time.Second, 20*time.Millisecond)
	return n
}

func TestSingleNodeReplicatesPromotion(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a raft node")
	}
	models := newModels(t)
	n := startNode(t, models)

	// A second manager stands in for the leader's local state.
	origin := newModels(t)
	v, err := origin.ApplyUpdate(lifecycle.KindOrdering, lifecycle.MustWeights(names, []float64{1, 2, 3}))
	require.NoError(t, err)
	st, err := origin.State(lifecycle.KindOrdering)
	require.NoError(t, err)

	require.NoError(t, n.Replicate(lifecycle.KindOrdering, st))

	got, err := models.State(lifecycle.KindOrdering)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.Active.ID)
	assert.Equal(t, uint64(1), n.fsm.Applied())

	stats := n.Stats()
	assert.Equal(t, "Leader", stats["state"])
	assert.NotEmpty(t, n.Addr())
	assert.Greater(t, n.AppliedIndex(), uint64(0))
}

func TestApplyRejectsBadCommand(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a raft node")
	}
	n := startNode(t, newModels(t))

	err := n.Apply(Command{Op: "explode"})
	assert.Error(t, err)
}

func TestShutdownIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a raft node")
	}
	n := startNode(t, newModels(t))

	require.NoError(t, n.Shutdown())
	assert.NoError(t, n.Shutdown())
	assert.False(t, n.IsLeader())
	assert.Nil(t, n.Stats())
	assert.ErrorContains(t, n.Apply(Command{Op: OpInstall}), "not initialized")
	assert.NoError(t, n.Replicate(lifecycle.KindOrdering, lifecycle.State{}))
}
