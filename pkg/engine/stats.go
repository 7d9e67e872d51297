package engine

import (
	"time"

	"github.com/cuemby/cadence/pkg/anomaly"
	"github.com/cuemby/cadence/pkg/balancer"
	"github.com/cuemby/cadence/pkg/batch"
	"github.com/cuemby/cadence/pkg/consensus"
	"github.com/cuemby/cadence/pkg/lifecycle"
	"github.com/cuemby/cadence/pkg/ordering"
)

// Stats is a point-in-time snapshot of every component.
type Stats struct {
	Uptime        time.Duration
	Batch         batch.Statistics
	Balancer      balancer.Statistics
	Targets       []balancer.Target
	Ordering      ordering.Statistics
	Anomaly       anomaly.Statistics
	Models        []lifecycle.ModelStatistics
	Weights       map[string]lifecycle.Weights
	Consensus     consensus.Statistics
	Replication   *ReplicationStats
	EventsDropped uint64
	EventsSkipped uint64
}

// ReplicationStats summarizes the raft node.
type ReplicationStats struct {
	Leader       bool
	LeaderAddr   string
	AppliedIndex uint64
	Applied      uint64
}

// Stats collects statistics from every component. Each component is read
// independently, so the snapshot is not atomic across components. Stats
// never takes the engine lock.
func (e *Engine) Stats() Stats {
	s := Stats{
		Batch:         e.batch.Statistics(),
		Balancer:      e.balancer.Statistics(),
		Targets:       e.balancer.Targets(),
		Ordering:      e.ordering.Statistics(),
		Anomaly:       e.anomaly.Statistics(),
		Models:        e.models.Statistics(),
		Weights:       make(map[string]lifecycle.Weights),
		Consensus:     e.advisor.Statistics(),
		EventsDropped: e.broker.Dropped(),
		EventsSkipped: e.broker.Skipped(),
	}
	for _, kind := range e.models.Kinds() {
		s.Weights[kind] = e.models.Snapshot(kind)
	}

	if started := e.startedAt.Load(); started != 0 {
		s.Uptime = e.now().Sub(time.Unix(0, started))
	}

	if node := e.node.Load(); node != nil {
		s.Replication = &ReplicationStats{
			Leader:       node.IsLeader(),
			LeaderAddr:   node.LeaderAddr(),
			AppliedIndex: node.AppliedIndex(),
			Applied:      e.fsm.Applied(),
		}
	}
	return s
}
