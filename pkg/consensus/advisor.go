package consensus

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/cadence/pkg/events"
	"github.com/cuemby/cadence/pkg/log"
	"github.com/cuemby/cadence/pkg/stats"
	"github.com/rs/zerolog"
)

// Direction is the sign of a timeout change.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionIncrease
	DirectionDecrease
)

func (d Direction) String() string {
	switch d {
	case DirectionIncrease:
		return "increase"
	case DirectionDecrease:
		return "decrease"
	default:
		return "none"
	}
}

// Heartbeat is one performance sample for a node. Latency is in
// milliseconds.
type Heartbeat struct {
	Latency    float64
	Throughput float64
	Available  bool
	Timestamp  time.Time
}

// LeaderPrediction is the best leader candidate.
type LeaderPrediction struct {
	LeaderID   string
	Confidence float64
	Reason     string
}

// TimeoutRecommendation is the advised election timeout.
type TimeoutRecommendation struct {
	Timeout   time.Duration
	Direction Direction
	Reason    string
}

// PartitionReport lists nodes that have not been seen recently, sorted.
type PartitionReport struct {
	Detected    bool
	Unreachable []string
	Description string
}

// NodeStats summarizes a node's heartbeat history.
type NodeStats struct {
	Samples       int
	Uptime        float64
	AvgLatency    float64
	LatencyStdDev float64
	AvgThroughput float64
	LastSeen      time.Time
}

// Statistics is a point-in-time view of the advisor.
type Statistics struct {
	Enabled              bool
	OptimizationsApplied uint64
	TrackedNodes         int
	LearningRate         float64
	Partitions           uint64
	Leader               string
	CurrentTimeout       time.Duration
}

// Advisor predicts leaders, tunes election timeouts and detects
// partitions from node heartbeats.
type Advisor struct {
	cfg       Config
	logger    zerolog.Logger
	publisher events.Publisher
	now       func() time.Time

	mu      sync.RWMutex
	history map[string]*stats.Ring[Heartbeat]
	leader  string

	optimizations  atomic.Uint64
	partitions     atomic.Uint64
	currentTimeout atomic.Int64
}

// Option customizes an Advisor.
type Option func(*Advisor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Advisor) { a.now = now }
}

// WithPublisher sends advisor events to p.
func WithPublisher(p events.Publisher) Option {
	return func(a *Advisor) { a.publisher = p }
}

// NewAdvisor creates an advisor with no history.
func NewAdvisor(cfg Config, opts ...Option) *Advisor {
	a := &Advisor{
		cfg:       cfg,
		logger:    log.WithComponent("consensus"),
		publisher: events.Discard,
		now:       time.Now,
		history:   make(map[string]*stats.Ring[Heartbeat]),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RecordHeartbeat appends a sample to nodeID's history, keeping the newest
// MaxHistory samples.
func (a *Advisor) RecordHeartbeat(nodeID string, hb Heartbeat) {
	if !a.cfg.Enabled || nodeID == "" {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = a.now()
	}
	if math.IsNaN(hb.Latency) || hb.Latency < 0 {
		hb.Latency = 0
	}
	if math.IsNaN(hb.Throughput) || hb.Throughput < 0 {
		hb.Throughput = 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.history[nodeID]
	if !ok {
		h = stats.NewRing[Heartbeat](a.cfg.MaxHistory)
		a.history[nodeID] = h
	}
	h.Push(hb)
}

// Forget drops a node's history.
func (a *Advisor) Forget(nodeID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.history, nodeID)
}

func summarize(h *stats.Ring[Heartbeat]) NodeStats {
	items := h.Items()
	if len(items) == 0 {
		return NodeStats{}
	}
	latencies := make([]float64, len(items))
	throughput := make([]float64, len(items))
	up := 0
	var last time.Time
	for i, hb := range items {
		latencies[i] = hb.Latency
		throughput[i] = hb.Throughput
		if hb.Available {
			up++
		}
		if hb.Timestamp.After(last) {
			last = hb.Timestamp
		}
	}
	lat := stats.Summarize(latencies)
	return NodeStats{
		Samples:       len(items),
		Uptime:        float64(up) / float64(len(items)),
		AvgLatency:    lat.Mean,
		LatencyStdDev: lat.StdDev,
		AvgThroughput: stats.Mean(throughput),
		LastSeen:      last,
	}
}

// NodeStats returns the summary of nodeID's history.
func (a *Advisor) NodeStats(nodeID string) (NodeStats, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	h, ok := a.history[nodeID]
	if !ok {
		return NodeStats{}, false
	}
	return summarize(h), true
}

// LeadershipScore combines uptime, latency, throughput and latency
// stability into [0,1].
func LeadershipScore(s NodeStats) float64 {
	return 0.3*s.Uptime +
		0.3/(1+s.AvgLatency/100) +
		0.2*math.Min(1, s.AvgThroughput/1e6) +
		0.2*(1-math.Min(1, s.LatencyStdDev/50))
}

// PredictLeader returns the candidate with the best leadership score.
// Nodes without history score 0.5. Ties go to the smallest ID.
func (a *Advisor) PredictLeader(candidates []string) LeaderPrediction {
	if !a.cfg.Enabled {
		return LeaderPrediction{Reason: "optimization disabled"}
	}
	if len(candidates) == 0 {
		return LeaderPrediction{Reason: "no candidates"}
	}

	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	a.mu.RLock()
	best, bestScore := "", math.Inf(-1)
	for _, id := range sorted {
		score := 0.5
		if h, ok := a.history[id]; ok && h.Len() > 0 {
			score = LeadershipScore(summarize(h))
		}
		if score > bestScore {
			best, bestScore = id, score
		}
	}
	a.mu.RUnlock()

	a.logger.Debug().Str("leader", best).Float64("confidence", bestScore).Msg("predicted leader")
	return LeaderPrediction{LeaderID: best, Confidence: bestScore, Reason: "leadership score"}
}

// RecommendTimeout derives an election timeout from the average latency
// and latency deviation, both in milliseconds.
func (a *Advisor) RecommendTimeout(current time.Duration, avgLatency, variance float64) TimeoutRecommendation {
	if !a.cfg.Enabled {
		return TimeoutRecommendation{Timeout: current, Direction: DirectionNone, Reason: "optimization disabled"}
	}
	if math.IsNaN(avgLatency) || math.IsNaN(variance) {
		return TimeoutRecommendation{Timeout: current, Direction: DirectionNone, Reason: "invalid latency input"}
	}

	ms := a.cfg.SafetyMargin * (2*avgLatency + 3*variance)
	ms = stats.Clamp(ms, float64(a.cfg.MinTimeout.Milliseconds()), float64(a.cfg.MaxTimeout.Milliseconds()))
	recommended := a.clampTimeout(time.Duration(math.Round(ms)) * time.Millisecond)

	rec := TimeoutRecommendation{Timeout: recommended}
	switch {
	case float64(recommended) > 1.1*float64(current):
		rec.Direction = DirectionIncrease
		rec.Reason = "high latency variance"
	case float64(recommended) < 0.9*float64(current):
		rec.Direction = DirectionDecrease
		rec.Reason = "low latency, timeout can shrink"
	default:
		rec.Direction = DirectionNone
		rec.Reason = "current timeout is optimal"
	}

	if recommended != current {
		a.optimizations.Add(1)
		a.logger.Info().
			Dur("current", current).
			Dur("recommended", recommended).
			Str("direction", rec.Direction.String()).
			Msg("timeout optimization")
		a.publisher.Publish(events.NewEvent(events.EventTimeoutRecommended, rec.Reason, map[string]string{
			"current":     current.String(),
			"recommended": recommended.String(),
			"direction":   rec.Direction.String(),
		}))
	}
	a.currentTimeout.Store(int64(recommended))
	return rec
}

// RecommendFromHistory aggregates every tracked node's latency and
// recommends a timeout for it.
func (a *Advisor) RecommendFromHistory(current time.Duration) TimeoutRecommendation {
	a.mu.RLock()
	var latencies []float64
	for _, h := range a.history {
		for _, hb := range h.Items() {
			latencies = append(latencies, hb.Latency)
		}
	}
	a.mu.RUnlock()

	if len(latencies) == 0 {
		return TimeoutRecommendation{Timeout: current, Direction: DirectionNone, Reason: "no heartbeat history"}
	}
	s := stats.Summarize(latencies)
	return a.RecommendTimeout(current, s.Mean, s.StdDev)
}

// LastSeen returns the newest heartbeat timestamp of every tracked node.
func (a *Advisor) LastSeen() map[string]time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]time.Time, len(a.history))
	for id, h := range a.history {
		if h.Len() > 0 {
			out[id] = h.At(h.Len() - 1).Timestamp
		}
	}
	return out
}

// DetectPartition reports nodes whose last contact is older than
// PartitionThreshold at now.
func (a *Advisor) DetectPartition(lastSeen map[string]time.Time, now time.Time) PartitionReport {
	if !a.cfg.Enabled {
		return PartitionReport{Description: "detection disabled"}
	}

	var unreachable []string
	for id, seen := range lastSeen {
		if now.Sub(seen) > a.cfg.PartitionThreshold {
			unreachable = append(unreachable, id)
		}
	}
	if len(unreachable) == 0 {
		return PartitionReport{Description: "no partition detected"}
	}
	sort.Strings(unreachable)

	a.partitions.Add(1)
	desc := fmt.Sprintf("partition detected: %d nodes unreachable", len(unreachable))
	a.logger.Warn().Strs("unreachable", unreachable).Msg("network partition detected")
	a.publisher.Publish(events.NewEvent(events.EventPartitionDetected, desc, map[string]string{
		"unreachable": fmt.Sprint(unreachable),
	}))
	return PartitionReport{Detected: true, Unreachable: unreachable, Description: desc}
}

// Leader returns the last leader reported by raft, if any.
func (a *Advisor) Leader() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.leader
}

func (a *Advisor) setLeader(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leader = id
}

// Statistics returns a snapshot of advisor state.
func (a *Advisor) Statistics() Statistics {
	a.mu.RLock()
	tracked, leader := len(a.history), a.leader
	a.mu.RUnlock()
	return Statistics{
		Enabled:              a.cfg.Enabled,
		OptimizationsApplied: a.optimizations.Load(),
		TrackedNodes:         tracked,
		LearningRate:         a.cfg.LearningRate,
		Partitions:           a.partitions.Load(),
		Leader:               leader,
		CurrentTimeout:       time.Duration(a.currentTimeout.Load()),
	}
}
