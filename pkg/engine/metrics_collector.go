package engine

import (
	"sync"
	"time"

	"github.com/cuemby/cadence/pkg/metrics"
)

const defaultPollInterval = 15 * time.Second

// MetricsCollector copies engine statistics into the Prometheus gauges
type MetricsCollector struct {
	engine   *Engine
	interval time.Duration
	stopCh   chan struct{}
	once     sync.Once
}

// NewMetricsCollector creates a collector polling e every interval
func NewMetricsCollector(e *Engine, interval time.Duration) *MetricsCollector {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &MetricsCollector{
		engine:   e,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector. It is safe to call more than once.
func (c *MetricsCollector) Stop() {
	c.once.Do(func() { close(c.stopCh) })
}

// Collect takes one snapshot and updates every gauge.
func (c *MetricsCollector) Collect() {
	s := c.engine.Stats()

	c.collectBatchMetrics(s)
	c.collectBalancerMetrics(s)
	c.collectModelMetrics(s)
	c.collectOrderingMetrics(s)
	c.collectAnomalyMetrics(s)
	c.collectConsensusMetrics(s)
	c.collectReplicationMetrics(s)

	metrics.EventsDropped.Set(float64(s.EventsDropped))
	metrics.EventsSkipped.Set(float64(s.EventsSkipped))
}

func (c *MetricsCollector) collectBatchMetrics(s Stats) {
	metrics.BatchSize.Set(float64(s.Batch.CurrentBatch))
	metrics.BatchImprovements.Set(float64(s.Batch.Improvements))
}

func (c *MetricsCollector) collectBalancerMetrics(s Stats) {
	metrics.AssignmentsTotal.Set(float64(s.Balancer.TotalAssignments))
	metrics.AssignmentFallbacks.Set(float64(s.Balancer.Fallbacks))
	metrics.BalancerAccuracy.Set(s.Balancer.Accuracy)
	metrics.BalancerLearningRate.Set(s.Balancer.LearningRate)

	// Removed targets must not keep reporting their last load
	metrics.TargetLoad.Reset()
	for _, t := range s.Targets {
		metrics.TargetLoad.WithLabelValues(t.ID).Set(t.Load)
	}
}

func (c *MetricsCollector) collectModelMetrics(s Stats) {
	for kind, w := range s.Weights {
		for i, name := range w.Names() {
			metrics.ModelWeight.WithLabelValues(kind, name).Set(w.At(i))
		}
	}

	for _, m := range s.Models {
		metrics.ModelAccuracy.WithLabelValues(m.Kind).Set(m.ActiveAccuracy)

		transitions := map[string]uint64{
			"promoted":    m.Promotions,
			"rejected":    m.Rejections,
			"failed":      m.Failures,
			"rolled_back": m.Rollbacks,
			"updated":     m.Updates,
		}
		for outcome, count := range transitions {
			metrics.ModelTransitions.WithLabelValues(m.Kind, outcome).Set(float64(count))
		}
	}
}

func (c *MetricsCollector) collectOrderingMetrics(s Stats) {
	metrics.TransactionsOrdered.Set(float64(s.Ordering.Ordered))
	metrics.OrderingCacheSize.Set(float64(s.Ordering.CachedFeatures))
}

func (c *MetricsCollector) collectAnomalyMetrics(s Stats) {
	metrics.AnomaliesTotal.WithLabelValues("transaction").Set(float64(s.Anomaly.Transaction))
	metrics.AnomaliesTotal.WithLabelValues("security").Set(float64(s.Anomaly.Security))
	metrics.AnomaliesTotal.WithLabelValues("performance").Set(float64(s.Anomaly.Performance))
}

func (c *MetricsCollector) collectConsensusMetrics(s Stats) {
	metrics.ConsensusTimeout.Set(s.Consensus.CurrentTimeout.Seconds())
	metrics.ConsensusTrackedNodes.Set(float64(s.Consensus.TrackedNodes))
	metrics.PartitionsTotal.Set(float64(s.Consensus.Partitions))
}

func (c *MetricsCollector) collectReplicationMetrics(s Stats) {
	if s.Replication == nil {
		return
	}
	if s.Replication.Leader {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}
	metrics.RaftAppliedIndex.Set(float64(s.Replication.AppliedIndex))
}
