package consensus

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/raft"
)

// ConfigReloader is the subset of *raft.Raft used to apply timeouts.
type ConfigReloader interface {
	ReloadableConfig() raft.ReloadableConfig
	ReloadConfig(rc raft.ReloadableConfig) error
}

// ObserverRegistrar is the subset of *raft.Raft used to watch
// heartbeats.
type ObserverRegistrar interface {
	RegisterObserver(or *raft.Observer)
	DeregisterObserver(or *raft.Observer)
}

// TuneConfig sets the heartbeat and election timeouts of cfg to timeout,
// clamped to the advisor bounds. The leader lease is kept at or below
// MinTimeout so later reloads within the bounds stay valid.
func (a *Advisor) TuneConfig(cfg *raft.Config, timeout time.Duration) {
	timeout = a.clampTimeout(timeout)
	cfg.HeartbeatTimeout = timeout
	cfg.ElectionTimeout = timeout
	if cfg.LeaderLeaseTimeout > a.cfg.MinTimeout {
		cfg.LeaderLeaseTimeout = a.cfg.MinTimeout
	}
}

func (a *Advisor) clampTimeout(d time.Duration) time.Duration {
	if d < a.cfg.MinTimeout {
		return a.cfg.MinTimeout
	}
	if d > a.cfg.MaxTimeout {
		return a.cfg.MaxTimeout
	}
	return d
}

// ApplyTimeout recommends a timeout from heartbeat history and reloads it
// into r when it differs from the running election timeout.
func (a *Advisor) ApplyTimeout(r ConfigReloader) (TimeoutRecommendation, error) {
	rc := r.ReloadableConfig()
	rec := a.RecommendFromHistory(rc.ElectionTimeout)
	if rec.Direction == DirectionNone || rec.Timeout == rc.ElectionTimeout {
		return rec, nil
	}

	rc.HeartbeatTimeout = rec.Timeout
	rc.ElectionTimeout = rec.Timeout
	if err := r.ReloadConfig(rc); err != nil {
		return rec, fmt.Errorf("failed to reload raft timeouts: %w", err)
	}
	return rec, nil
}

// HandleObservation folds a raft observation into the heartbeat history.
// Failed heartbeats count as unavailable samples whose latency is the time
// since last contact.
func (a *Advisor) HandleObservation(o raft.Observation) {
	switch data := o.Data.(type) {
	case raft.FailedHeartbeatObservation:
		now := a.now()
		latency := float64(now.Sub(data.LastContact)) / float64(time.Millisecond)
		a.RecordHeartbeat(string(data.PeerID), Heartbeat{Latency: latency, Available: false, Timestamp: now})
	case raft.ResumedHeartbeatObservation:
		latency := 0.0
		if s, ok := a.NodeStats(string(data.PeerID)); ok {
			latency = s.AvgLatency
		}
		a.RecordHeartbeat(string(data.PeerID), Heartbeat{Latency: latency, Available: true, Timestamp: a.now()})
	case raft.LeaderObservation:
		a.setLeader(string(data.LeaderID))
		a.logger.Info().Str("leader", string(data.LeaderID)).Msg("raft leader changed")
	case raft.PeerObservation:
		if data.Removed {
			a.Forget(string(data.Peer.ID))
		}
	}
}

func observed(o *raft.Observation) bool {
	switch o.Data.(type) {
	case raft.FailedHeartbeatObservation, raft.ResumedHeartbeatObservation,
		raft.LeaderObservation, raft.PeerObservation:
		return true
	}
	return false
}

// Watch registers a non-blocking observer on r and feeds observations into
// the advisor until ctx is done.
func (a *Advisor) Watch(ctx context.Context, r ObserverRegistrar) error {
	ch := make(chan raft.Observation, 64)
	obs := raft.NewObserver(ch, false, observed)
	r.RegisterObserver(obs)
	defer r.DeregisterObserver(obs)

	for {
		select {
		case o := <-ch:
			a.HandleObservation(o)
		case <-ctx.Done():
			return nil
		}
	}
}
