package consensus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReloader struct {
	rc      raft.ReloadableConfig
	reloads int
	err     error
}

func (f *fakeReloader) ReloadableConfig() raft.ReloadableConfig { return f.rc }

func (f *fakeReloader) ReloadConfig(rc raft.ReloadableConfig) error {
	if f.err != nil {
		return f.err
	}
	f.rc = rc
	f.reloads++
	return nil
}

type fakeRegistrar struct {
	registered   chan *raft.Observer
	deregistered chan *raft.Observer
}

func (f *fakeRegistrar) RegisterObserver(or *raft.Observer)   { f.registered <- or }
func (f *fakeRegistrar) DeregisterObserver(or *raft.Observer) { f.deregistered <- or }

func TestTuneConfig(t *testing.T) {
	a := NewAdvisor(DefaultConfig())

	cfg := raft.DefaultConfig()
	cfg.LocalID = "node-1"
	a.TuneConfig(cfg, 2*time.Second)
	assert.Equal(t, 500*time.Millisecond, cfg.HeartbeatTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.ElectionTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.LeaderLeaseTimeout)
	assert.NoError(t, raft.ValidateConfig(cfg))

	a.TuneConfig(cfg, time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, cfg.HeartbeatTimeout)
	assert.NoError(t, raft.ValidateConfig(cfg))
}

func TestApplyTimeout(t *testing.T) {
	a := NewAdvisor(DefaultConfig())
	for i := 0; i < 10; i++ {
		a.RecordHeartbeat("n1", Heartbeat{Latency: 150, Available: true})
	}

	r := &fakeReloader{rc: raft.ReloadableConfig{HeartbeatTimeout: time.Second, ElectionTimeout: time.Second}}
	rec, err := a.ApplyTimeout(r)
	require.NoError(t, err)
	assert.Equal(t, DirectionDecrease, rec.Direction)
	assert.Equal(t, 1, r.reloads)
	assert.Equal(t, 360*time.Millisecond, r.rc.ElectionTimeout)
	assert.Equal(t, 360*time.Millisecond, r.rc.HeartbeatTimeout)

	rec, err = a.ApplyTimeout(r)
	require.NoError(t, err)
	assert.Equal(t, DirectionNone, rec.Direction)
	assert.Equal(t, 1, r.reloads)
}

func TestApplyTimeoutReloadError(t *testing.T) {
	a := NewAdvisor(DefaultConfig())
	a.RecordHeartbeat("n1", Heartbeat{Latency: 150, Available: true})

	r := &fakeReloader{
		rc:  raft.ReloadableConfig{HeartbeatTimeout: time.Second, ElectionTimeout: time.Second},
		err: errors.New("invalid config"),
	}
	_, err := a.ApplyTimeout(r)
	assert.ErrorContains(t, err, "invalid config")
}

func TestHandleObservation(t *testing.T) {
	now := epoch
	a := NewAdvisor(DefaultConfig(), WithClock(func() time.Time { return now }))

	a.HandleObservation(raft.Observation{Data: raft.FailedHeartbeatObservation{
		PeerID:      "n2",
		LastContact: now.Add(-200 * time.Millisecond),
	}})
	s, ok := a.NodeStats("n2")
	require.True(t, ok)
	assert.Equal(t, 0.0, s.Uptime)
	assert.InDelta(t, 200, s.AvgLatency, 1e-9)

	a.HandleObservation(raft.Observation{Data: raft.ResumedHeartbeatObservation{PeerID: "n2"}})
	s, _ = a.NodeStats("n2")
	assert.Equal(t, 2, s.Samples)
	assert.Equal(t, 0.5, s.Uptime)

	a.HandleObservation(raft.Observation{Data: raft.LeaderObservation{LeaderID: "n1"}})
	assert.Equal(t, "n1", a.Leader())
	assert.Equal(t, "n1", a.Statistics().Leader)

	a.HandleObservation(raft.Observation{Data: raft.PeerObservation{Removed: true, Peer: raft.Server{ID: "n2"}}})
	_, ok = a.NodeStats("n2")
	assert.False(t, ok)

	a.HandleObservation(raft.Observation{Data: raft.RaftState(0)})
	assert.Zero(t, a.Statistics().TrackedNodes)
}

func TestWatchRegistersUntilCancelled(t *testing.T) {
	a := NewAdvisor(DefaultConfig())
	reg := &fakeRegistrar{
		registered:   make(chan *raft.Observer, 1),
		deregistered: make(chan *raft.Observer, 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Watch(ctx, reg) }()

	obs := <-reg.registered
	require.NotNil(t, obs)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
	assert.Same(t, obs, <-reg.deregistered)
}
