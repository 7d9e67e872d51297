package balancer

import (
	"errors"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/cadence/pkg/lifecycle"
	"github.com/cuemby/cadence/pkg/log"
	"github.com/cuemby/cadence/pkg/metrics"
	"github.com/cuemby/cadence/pkg/replay"
	"github.com/cuemby/cadence/pkg/stats"
	"github.com/rs/zerolog"
)

// FeatureNames are the assignment features, in vector order.
var FeatureNames = []string{"load", "latency", "capacity", "reliability"}

// BaselineAccuracy is reported until feedback arrives.
const BaselineAccuracy = 0.90

// DefaultWeights returns the initial assignment model.
func DefaultWeights() lifecycle.Weights {
	return lifecycle.MustWeights(FeatureNames, []float64{0.25, 0.25, 0.25, 0.25})
}

// ModelStore is the part of the lifecycle manager the balancer needs.
type ModelStore interface {
	Snapshot(kind string) lifecycle.Weights
	ApplyUpdate(kind string, w lifecycle.Weights) (*lifecycle.ModelVersion, error)
}

// Request is a unit of work to place.
type Request struct {
	ID string
	// Candidates restricts placement to these target IDs when set.
	Candidates []string
}

// Assignment is the placement decision for a Request.
type Assignment struct {
	TargetID   string
	Confidence float64
	// Features of the chosen target, to be echoed back in RecordFeedback.
	Features []float64
	// Fallback is set when the best-scoring target was overloaded.
	Fallback bool
}

// TrainResult describes one momentum update.
type TrainResult struct {
	Skipped      bool
	Samples      int
	LearningRate float64
	Accuracy     float64
	Weights      lifecycle.Weights
	Version      string
}

// Statistics is a point-in-time view of the balancer.
type Statistics struct {
	Targets          int
	AvgLoad          float64
	MaxLoad          float64
	MinLoad          float64
	HotTargets       []string
	TotalAssignments uint64
	Fallbacks        uint64
	Feedback         uint64
	Accuracy         float64
	LearningRate     float64
	TrainingRuns     uint64
	BufferedSamples  int
}

// Balancer assigns requests to shards or validators using the Active
// assignment model.
type Balancer struct {
	cfg    Config
	models ModelStore
	buffer *replay.Buffer
	logger zerolog.Logger
	now    func() time.Time

	targets atomic.Pointer[registry]
	regMu   sync.Mutex

	assignments  atomic.Uint64
	fallbacks    atomic.Uint64
	feedback     atomic.Uint64
	correct      atomic.Uint64
	trainingRuns atomic.Uint64
	learningRate atomic.Uint64 // math.Float64bits

	trainMu  sync.Mutex
	lifeOnce sync.Once
	started  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewBalancer creates a balancer reading weights from models.
func NewBalancer(cfg Config, models ModelStore) *Balancer {
	b := &Balancer{
		cfg:    cfg,
		models: models,
		buffer: replay.NewBuffer(cfg.ReplayCapacity),
		logger: log.WithComponent("balancer"),
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	b.targets.Store(newRegistry(nil))
	b.learningRate.Store(math.Float64bits(cfg.LearningRate))
	return b
}

// Experiences exposes the replay buffer so the lifecycle manager can sample
// it.
func (b *Balancer) Experiences() *replay.Buffer { return b.buffer }

// UpdateTarget inserts or replaces a target's telemetry.
func (b *Balancer) UpdateTarget(t Target) {
	b.regMu.Lock()
	defer b.regMu.Unlock()
	b.targets.Store(b.targets.Load().with(sanitize(t)))
}

// RemoveTarget forgets a target.
func (b *Balancer) RemoveTarget(id string) {
	b.regMu.Lock()
	defer b.regMu.Unlock()
	b.targets.Store(b.targets.Load().without(id))
}

// Targets returns every known target, sorted by ID.
func (b *Balancer) Targets() []Target {
	return append([]Target(nil), b.targets.Load().targets...)
}

func (b *Balancer) weights() lifecycle.Weights {
	if b.models != nil {
		if w := b.models.Snapshot(lifecycle.KindAssignment); w.Len() == len(FeatureNames) {
			return w
		}
	}
	return DefaultWeights()
}

// Features returns the normalized feature vector of a target.
func (b *Balancer) Features(t Target) []float64 {
	return []float64{
		1 - t.Load,
		1 - stats.Clamp(t.AvgLatency/b.cfg.LatencyScale, 0, 1),
		t.Capacity,
		1 - t.FailureRate,
	}
}

func confidence(t Target) float64 {
	return stats.Clamp(0.4*(1-t.Load)+0.3*t.Capacity+0.3*(1-t.FailureRate), 0, 1)
}

func (b *Balancer) candidates(req Request) []Target {
	reg := b.targets.Load()
	if len(req.Candidates) == 0 {
		return reg.targets
	}
	out := make([]Target, 0, len(req.Candidates))
	for _, id := range req.Candidates {
		if i, ok := reg.index[id]; ok {
			out = append(out, reg.targets[i])
		}
	}
	return out
}

// Assign places a request. It never blocks and never fails: with no
// candidates it returns the default target with zero confidence.
func (b *Balancer) Assign(req Request) Assignment {
	b.assignments.Add(1)
	cands := b.candidates(req)
	if len(cands) == 0 {
		return Assignment{TargetID: b.cfg.DefaultTarget}
	}

	if !b.cfg.Enabled {
		t := cands[hashIndex(req.ID, len(cands))]
		return Assignment{TargetID: t.ID, Confidence: confidence(t), Features: b.Features(t)}
	}

	w := b.weights()
	best := -1
	bestScore := math.Inf(-1)
	for i, t := range cands {
		if s := w.Score(b.Features(t)); s > bestScore {
			best, bestScore = i, s
		}
	}

	chosen := cands[best]
	fallback := false
	if chosen.Load > b.cfg.LoadThreshold {
		fallback = true
		b.fallbacks.Add(1)
		if alt, ok := b.leastLoaded(cands); ok {
			chosen = alt
		} else {
			chosen = cands[rand.IntN(len(cands))]
		}
	}

	return Assignment{
		TargetID:   chosen.ID,
		Confidence: confidence(chosen),
		Features:   b.Features(chosen),
		Fallback:   fallback,
	}
}

// leastLoaded returns the lowest-load target that is not overloaded.
func (b *Balancer) leastLoaded(cands []Target) (Target, bool) {
	var best Target
	found := false
	for _, t := range cands {
		if t.Load > b.cfg.LoadThreshold {
			continue
		}
		if !found || t.Load < best.Load {
			best, found = t, true
		}
	}
	return best, found
}

// AssignValidator returns the least loaded non-overloaded target offering
// every required capability, or the default target.
func (b *Balancer) AssignValidator(required []string) string {
	var best Target
	found := false
	for _, t := range b.targets.Load().targets {
		if t.Load >= b.cfg.LoadThreshold || !t.hasCapabilities(required) {
			continue
		}
		if !found || t.Load < best.Load {
			best, found = t, true
		}
	}
	if !found {
		return b.cfg.DefaultTarget
	}
	return best.ID
}

func hashIndex(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// RecordFeedback stores the outcome of an assignment for training. It never
// blocks; the oldest experience is evicted when the buffer is full.
func (b *Balancer) RecordFeedback(predictedID string, features []float64, latency, load float64, success bool) {
	b.feedback.Add(1)
	if success && load < b.cfg.LoadThreshold {
		b.correct.Add(1)
	}
	b.buffer.Add(replay.Experience{
		PredictedAction: predictedID,
		Features:        append([]float64(nil), features...),
		Outcome:         replay.Outcome{Latency: latency, Load: load, Success: success},
		Timestamp:       b.now(),
	})
}

// Accuracy returns the running share of assignments whose outcome was good.
func (b *Balancer) Accuracy() float64 {
	total := b.feedback.Load()
	if total == 0 {
		return BaselineAccuracy
	}
	return float64(b.correct.Load()) / float64(total)
}

// LearningRate returns the rate used by the most recent training run.
func (b *Balancer) LearningRate() float64 {
	return math.Float64frombits(b.learningRate.Load())
}

func (b *Balancer) adaptLearningRate(accuracy float64) float64 {
	base := b.cfg.LearningRate
	switch {
	case accuracy < 0.85:
		return math.Min(base*1.5, b.cfg.MaxLearningRate)
	case accuracy > 0.95:
		return math.Max(base*0.5, b.cfg.MinLearningRate)
	default:
		return base
	}
}

// Reward scores an outcome for the weight update.
func (b *Balancer) Reward(o replay.Outcome) float64 {
	r := -1.0
	if o.Success {
		r = 1.0
	}
	switch {
	case o.Latency < 100:
		r += 0.5
	case o.Latency > 500:
		r -= 0.5
	}
	if o.Load < b.cfg.LoadThreshold {
		r += 0.5
	} else {
		r -= 0.5 * (o.Load - b.cfg.LoadThreshold)
	}
	return r
}

// Train applies one momentum-weighted update from the most recent
// experiences and publishes the result as the Active assignment model.
func (b *Balancer) Train() (TrainResult, error) {
	b.trainMu.Lock()
	defer b.trainMu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CycleDuration, "balancer")

	accuracy := b.Accuracy()
	lr := b.adaptLearningRate(accuracy)
	b.learningRate.Store(math.Float64bits(lr))

	res := TrainResult{LearningRate: lr, Accuracy: accuracy}
	exps := b.buffer.Recent(b.cfg.TrainingSamples)
	if len(exps) < b.cfg.MinTrainingSamples {
		res.Skipped = true
		res.Samples = len(exps)
		return res, nil
	}

	current := b.weights()
	values := current.Values()
	update := make([]float64, len(values))
	used := 0
	for _, exp := range exps {
		if len(exp.Features) != len(values) {
			continue
		}
		r := b.Reward(exp.Outcome)
		for i, f := range exp.Features {
			update[i] += r * f * lr
		}
		used++
	}
	if used == 0 {
		res.Skipped = true
		return res, nil
	}

	for i := range values {
		values[i] = b.cfg.Momentum*values[i] + (1-b.cfg.Momentum)*update[i]/float64(used)
	}
	next, err := current.WithValues(values)
	if err != nil {
		return res, err
	}

	res.Samples = used
	res.Weights = next
	b.trainingRuns.Add(1)

	if b.models != nil {
		version, err := b.models.ApplyUpdate(lifecycle.KindAssignment, next)
		if errors.Is(err, lifecycle.ErrReadOnly) {
			res.Skipped = true
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res.Version = version.ID
	}

	b.logger.Debug().
		Int("samples", used).
		Float64("learning_rate", lr).
		Float64("accuracy", accuracy).
		Str("weights", next.String()).
		Msg("assignment weights updated")
	return res, nil
}

// Start runs Train every TrainInterval until Stop.
func (b *Balancer) Start() {
	if b.cfg.TrainInterval <= 0 || !b.started.CompareAndSwap(false, true) {
		return
	}
	go b.run()
}

// Stop stops the training loop and waits for an in-flight run. It is safe
// to call more than once, or without Start.
func (b *Balancer) Stop() {
	b.lifeOnce.Do(func() { close(b.stopCh) })
	if b.started.Load() {
		<-b.doneCh
	}
}

func (b *Balancer) run() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.cfg.TrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := b.Train(); err != nil {
				b.logger.Error().Err(err).Msg("failed to train assignment weights")
			}
		case <-b.stopCh:
			return
		}
	}
}

// Rebalance reports targets whose load exceeds the threshold, sorted by
// descending load.
func (b *Balancer) Rebalance() []string {
	var hot []Target
	for _, t := range b.targets.Load().targets {
		if t.Load > b.cfg.LoadThreshold {
			hot = append(hot, t)
		}
	}
	sort.SliceStable(hot, func(i, j int) bool { return hot[i].Load > hot[j].Load })

	ids := make([]string, len(hot))
	for i, t := range hot {
		ids[i] = t.ID
	}
	if len(ids) > 0 {
		b.logger.Info().Strs("targets", ids).Msg("hot targets need rebalancing")
	}
	return ids
}

// Statistics returns a snapshot of balancer state.
func (b *Balancer) Statistics() Statistics {
	targets := b.targets.Load().targets
	st := Statistics{
		Targets:          len(targets),
		TotalAssignments: b.assignments.Load(),
		Fallbacks:        b.fallbacks.Load(),
		Feedback:         b.feedback.Load(),
		Accuracy:         b.Accuracy(),
		LearningRate:     b.LearningRate(),
		TrainingRuns:     b.trainingRuns.Load(),
		BufferedSamples:  b.buffer.Len(),
	}
	if len(targets) == 0 {
		return st
	}

	st.MinLoad = math.Inf(1)
	sum := 0.0
	for _, t := range targets {
		sum += t.Load
		st.MaxLoad = math.Max(st.MaxLoad, t.Load)
		st.MinLoad = math.Min(st.MinLoad, t.Load)
		if t.Load > b.cfg.LoadThreshold {
			st.HotTargets = append(st.HotTargets, t.ID)
		}
	}
	st.AvgLoad = sum / float64(len(targets))
	return st
}
