package batch

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cuemby/cadence/pkg/events"
	"github.com/cuemby/cadence/pkg/log"
	"github.com/cuemby/cadence/pkg/stats"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Reasons reported with a Decision.
const (
	ReasonDisabled     = "disabled"
	ReasonCooldown     = "cooldown"
	ReasonInsufficient = "insufficient regression data"
	ReasonConverged    = "converged"
)

// Sample is one observation of the processing pipeline.
type Sample struct {
	Throughput float64
	Latency    float64
	BatchSize  int
	Timestamp  time.Time
}

// Decision is the outcome of Optimize.
type Decision struct {
	NewBatch  int
	Optimized bool
	Reason    string
}

// Statistics is a point-in-time view of the optimizer.
type Statistics struct {
	CurrentBatch   int
	BestBatch      int
	BestThroughput float64
	Optimizations  uint64
	Improvements   uint64
	Skipped        uint64
	Samples        int
	AvgThroughput  float64
	AvgLatency     float64
	LastRSquared   float64
	LastReason     string
}

// Optimizer proposes the batch size for the next processing interval.
type Optimizer struct {
	cfg       Config
	now       func() time.Time
	publisher events.Publisher
	logger    zerolog.Logger

	mu           sync.Mutex
	limiter      *rate.Limiter
	samples      *stats.Ring[Sample]
	current      int
	lastEstimate float64
	cycles       int

	bestBatch      int
	bestThroughput float64
	improvements   uint64
	skipped        uint64
	lastRSquared   float64
	lastReason     string
}

// Option customizes an Optimizer.
type Option func(*Optimizer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) { o.now = now }
}

// WithPublisher sends batch.adjusted events to p.
func WithPublisher(p events.Publisher) Option {
	return func(o *Optimizer) { o.publisher = p }
}

// NewOptimizer creates an optimizer starting at the default batch size.
func NewOptimizer(cfg Config, opts ...Option) *Optimizer {
	o := &Optimizer{
		cfg:       cfg,
		now:       time.Now,
		publisher: events.Discard,
		logger:    log.WithComponent("batch"),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.resetLocked()
	return o
}

func (o *Optimizer) resetLocked() {
	o.samples = stats.NewRing[Sample](o.cfg.WindowSize)
	o.limiter = nil
	if o.cfg.Interval > 0 {
		o.limiter = rate.NewLimiter(rate.Every(o.cfg.Interval), 1)
	}
	o.current = o.cfg.DefaultBatch
	o.lastEstimate = float64(o.cfg.DefaultBatch)
	o.cycles = 0
	o.bestBatch = o.cfg.DefaultBatch
	o.bestThroughput = 0
	o.improvements = 0
	o.skipped = 0
	o.lastRSquared = 0
	o.lastReason = ""
}

// Optimize records the observation and returns the recommended batch size.
// Latency is in milliseconds. It never fails; degraded cases return the
// current batch, clamped to the configured bounds, with Optimized false.
func (o *Optimizer) Optimize(throughput, latency float64, currentBatch int) Decision {
	if !o.cfg.Enabled {
		return Decision{NewBatch: o.cfg.DefaultBatch, Reason: ReasonDisabled}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// Every decision, including the degraded ones, stays in bounds.
	base := clampInt(currentBatch, o.cfg.MinBatch, o.cfg.MaxBatch)

	now := o.now()
	if o.limiter != nil && !o.limiter.AllowN(now, 1) {
		o.skipped++
		return Decision{NewBatch: base, Reason: ReasonCooldown}
	}

	if math.IsNaN(throughput) || math.IsNaN(latency) || math.IsInf(throughput, 0) || math.IsInf(latency, 0) {
		o.lastReason = "invalid sample"
		return Decision{NewBatch: base, Reason: o.lastReason}
	}

	o.samples.Push(Sample{Throughput: throughput, Latency: latency, BatchSize: base, Timestamp: now})
	o.trackBest(throughput, base)

	if o.samples.Len() < o.cfg.MinRegressionSamples {
		o.lastReason = ReasonInsufficient
		return Decision{NewBatch: base, Reason: ReasonInsufficient}
	}

	regEstimate, rSquared := o.regressionEstimate()
	ratioEstimate := o.ratioEstimate(float64(base), throughput, latency)
	gradEstimate := o.gradientEstimate(float64(base))

	regWeight := 0.3
	if rSquared > 0.8 {
		regWeight = 0.5
	}
	const ratioWeight = 0.4
	gradWeight := 1 - regWeight - ratioWeight

	combined := regWeight*regEstimate + ratioWeight*ratioEstimate + gradWeight*gradEstimate

	maxChange := o.cfg.SteadyMaxChange
	if o.cycles < o.cfg.RampUpCycles {
		maxChange = o.cfg.RampUpMaxChange
	}
	limit := maxChange * float64(base)
	delta := stats.Clamp(combined-float64(base), -limit, limit)

	next := clampInt(int(math.Round(float64(base)+delta)), o.cfg.MinBatch, o.cfg.MaxBatch)

	o.cycles++
	o.lastRSquared = rSquared
	o.current = next

	if next == currentBatch {
		o.lastReason = ReasonConverged
		return Decision{NewBatch: next, Reason: ReasonConverged}
	}

	o.lastReason = fmt.Sprintf("ensemble regression=%.0f ratio=%.0f gradient=%.0f r2=%.2f",
		regEstimate, ratioEstimate, gradEstimate, rSquared)

	o.logger.Info().
		Int("from", currentBatch).
		Int("to", next).
		Float64("throughput", throughput).
		Float64("latency_ms", latency).
		Float64("r_squared", rSquared).
		Msg("batch size adjusted")
	o.publisher.Publish(events.NewEvent(events.EventBatchAdjusted, o.lastReason, map[string]string{
		"from": fmt.Sprint(currentBatch),
		"to":   fmt.Sprint(next),
	}))

	return Decision{NewBatch: next, Optimized: true, Reason: o.lastReason}
}

func (o *Optimizer) trackBest(throughput float64, batch int) {
	if throughput > o.bestThroughput {
		if o.bestThroughput > 0 {
			o.improvements++
		}
		o.bestThroughput = throughput
		o.bestBatch = batch
	}
}

// regressionEstimate inverts the throughput/batch fit for the target
// throughput. A degenerate or non-increasing fit falls back to the previous
// estimate.
func (o *Optimizer) regressionEstimate() (float64, float64) {
	items := o.samples.Items()
	xs := make([]float64, len(items))
	ys := make([]float64, len(items))
	for i, s := range items {
		xs[i] = float64(s.BatchSize)
		ys[i] = s.Throughput
	}

	reg, err := stats.LinearRegression(xs, ys, o.cfg.MinRegressionSamples)
	if err != nil {
		return o.lastEstimate, 0
	}
	estimate, ok := reg.Invert(o.cfg.TargetThroughput)
	if !ok {
		return o.lastEstimate, reg.RSquared
	}
	estimate = stats.Clamp(estimate, float64(o.cfg.MinBatch), float64(o.cfg.MaxBatch))
	o.lastEstimate = estimate
	return estimate, reg.RSquared
}

func (o *Optimizer) ratioEstimate(base, throughput, latency float64) float64 {
	efficiency := (throughput/o.cfg.TargetThroughput + o.cfg.TargetLatency/math.Max(1, latency)) / 2
	switch {
	case efficiency < 0.7:
		return base * 0.9
	case efficiency > 1.2 && latency < o.cfg.TargetLatency:
		return base * 1.1
	default:
		return base
	}
}

func (o *Optimizer) gradientEstimate(base float64) float64 {
	recent := o.samples.Last(o.cfg.GradientSamples)
	if len(recent) < 2 {
		return base
	}
	sum := 0.0
	for i := 1; i < len(recent); i++ {
		sum += recent[i].Throughput - recent[i-1].Throughput
	}
	avg := sum / float64(len(recent)-1)
	switch {
	case avg > 0:
		return base * 1.05
	case avg < -10000:
		return base * 0.95
	default:
		return base
	}
}

// UpdateNetworkConditions shrinks the current batch by 20% when the network
// is reported anomalous and returns the resulting batch size.
func (o *Optimizer) UpdateNetworkConditions(anomalous bool) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if anomalous && o.cfg.Enabled {
		o.current = clampInt(int(float64(o.current)*0.8), o.cfg.MinBatch, o.cfg.MaxBatch)
		o.logger.Warn().Int("batch", o.current).Msg("network anomaly, reducing batch size")
	}
	return o.current
}

// UpdateNodePerformance shrinks the current batch by 15% when CPU or memory
// usage (percent) exceeds 90 and returns the resulting batch size.
func (o *Optimizer) UpdateNodePerformance(cpuPercent, memPercent float64) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cfg.Enabled && (cpuPercent > 90 || memPercent > 90) {
		o.current = clampInt(int(float64(o.current)*0.85), o.cfg.MinBatch, o.cfg.MaxBatch)
		o.logger.Warn().
			Float64("cpu", cpuPercent).
			Float64("memory", memPercent).
			Int("batch", o.current).
			Msg("node under pressure, reducing batch size")
	}
	return o.current
}

// Current returns the most recent recommendation.
func (o *Optimizer) Current() int {
	if !o.cfg.Enabled {
		return o.cfg.DefaultBatch
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Statistics returns a snapshot of optimizer state.
func (o *Optimizer) Statistics() Statistics {
	o.mu.Lock()
	defer o.mu.Unlock()

	items := o.samples.Items()
	var tp, lat float64
	for _, s := range items {
		tp += s.Throughput
		lat += s.Latency
	}
	if n := float64(len(items)); n > 0 {
		tp /= n
		lat /= n
	}

	return Statistics{
		CurrentBatch:   o.current,
		BestBatch:      o.bestBatch,
		BestThroughput: o.bestThroughput,
		Optimizations:  uint64(o.cycles),
		Improvements:   o.improvements,
		Skipped:        o.skipped,
		Samples:        len(items),
		AvgThroughput:  tp,
		AvgLatency:     lat,
		LastRSquared:   o.lastRSquared,
		LastReason:     o.lastReason,
	}
}

// Reset restores the initial state.
func (o *Optimizer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetLocked()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
