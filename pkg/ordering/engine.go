package ordering

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/cadence/pkg/lifecycle"
	"github.com/cuemby/cadence/pkg/log"
	"github.com/cuemby/cadence/pkg/stats"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
)

// FeatureNames are the ordering features, in vector order.
var FeatureNames = []string{"size", "hotness", "fee", "age", "dependency"}

const (
	sizeIdx    = 0
	hotnessIdx = 1
)

// DefaultWeights returns the initial ordering model.
func DefaultWeights() lifecycle.Weights {
	return lifecycle.MustWeights(FeatureNames, []float64{0.2, 0.25, 0.15, 0.2, 0.2})
}

// ModelStore is the part of the lifecycle manager the engine needs.
type ModelStore interface {
	Snapshot(kind string) lifecycle.Weights
	ApplyUpdate(kind string, w lifecycle.Weights) (*lifecycle.ModelVersion, error)
}

// Statistics is a point-in-time view of the engine.
type Statistics struct {
	Ordered        uint64
	Batches        uint64
	Adaptations    uint64
	CachedFeatures int
	CacheHits      uint64
	CacheMisses    uint64
	TrackedSenders int
	AvgLatency     time.Duration
	LastThroughput float64
	Weights        lifecycle.Weights
}

type senderActivity struct {
	lastSeen time.Time
	count    int
}

// Engine ranks pending transactions by the Active ordering weights.
type Engine struct {
	cfg    Config
	models ModelStore
	logger zerolog.Logger
	now    func() time.Time

	// local holds the weights when no model store is attached.
	local atomic.Pointer[lifecycle.Weights]

	mu      sync.Mutex
	cache   *lru.Cache // tx ID -> Features
	senders map[string]*senderActivity

	adaptMu        sync.Mutex
	batches        uint64
	lastThroughput float64

	ordered     atomic.Uint64
	calls       atomic.Uint64
	adaptations atomic.Uint64
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	latency     *stats.Window
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an ordering engine reading weights from models, which
// may be nil.
func NewEngine(cfg Config, models ModelStore, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		models:  models,
		logger:  log.WithComponent("ordering"),
		now:     time.Now,
		cache:   newFeatureCache(cfg.CacheSize),
		senders: make(map[string]*senderActivity),
		latency: stats.NewWindow(1000),
	}
	for _, opt := range opts {
		opt(e)
	}
	w := DefaultWeights()
	e.local.Store(&w)
	return e
}

// Weights returns the weights currently used for scoring.
func (e *Engine) Weights() lifecycle.Weights {
	if e.models != nil {
		if w := e.models.Snapshot(lifecycle.KindOrdering); w.Len() == len(FeatureNames) {
			return w
		}
	}
	return *e.local.Load()
}

// ScoreAndOrder returns pending sorted by descending score. Ties keep their
// input order. When clustering is enabled, hot senders' transactions are
// pulled up to the position of their best-ranked member.
func (e *Engine) ScoreAndOrder(pending []Transaction) []Transaction {
	if len(pending) == 0 {
		return nil
	}
	if !e.cfg.Enabled {
		return append([]Transaction(nil), pending...)
	}

	ranked := e.Rank(pending)
	out := make([]Transaction, len(ranked))
	for i, s := range ranked {
		out[i] = s.Transaction
	}
	return out
}

// Rank scores and orders pending, returning the scores and features
// alongside each transaction.
func (e *Engine) Rank(pending []Transaction) []Scored {
	if len(pending) == 0 {
		return nil
	}
	start := time.Now()
	now := e.now()
	w := e.Weights()

	scored := make([]Scored, len(pending))
	e.mu.Lock()
	for i, tx := range pending {
		f := e.features(tx, now)
		scored[i] = Scored{Transaction: tx, Score: w.Score(f.Vector()), Features: f}
	}
	hot := e.recordActivity(pending, now)
	e.mu.Unlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if e.cfg.ClusterHotSenders && len(hot) > 0 {
		scored = cluster(scored, hot)
	}

	e.ordered.Add(uint64(len(pending)))
	e.calls.Add(1)
	e.latency.Add(float64(time.Since(start)))
	return scored
}

func newFeatureCache(size int) *lru.Cache {
	if size <= 0 {
		size = DefaultConfig().CacheSize
	}
	// lru.New fails only for a non-positive size.
	c, _ := lru.New(size)
	return c
}

// features must be called with e.mu held.
func (e *Engine) features(tx Transaction, now time.Time) Features {
	var f Features
	cached, ok := e.cache.Get(tx.ID)
	if ok && tx.ID != "" {
		e.cacheHits.Add(1)
		f = cached.(Features)
	} else {
		e.cacheMisses.Add(1)
		f = e.staticFeatures(tx)
		if tx.ID != "" {
			e.cache.Add(tx.ID, f)
		}
	}

	f.Hotness = e.hotness(tx.Sender, now)
	if !tx.Timestamp.IsZero() {
		f.Age = stats.Clamp(float64(now.Sub(tx.Timestamp))/float64(e.cfg.FairnessWindow), 0, 1)
	}
	return f
}

func (e *Engine) hotness(sender string, now time.Time) float64 {
	a, ok := e.senders[sender]
	if !ok || sender == "" {
		return 0
	}
	since := now.Sub(a.lastSeen)
	if since > e.cfg.RecencyWindow {
		return 0
	}
	recency := 1 - stats.Clamp(float64(since)/float64(e.cfg.RecencyWindow), 0, 1)
	frequency := math.Min(1, float64(a.count)/e.cfg.FrequencyScale)
	return (recency + frequency) / 2
}

// recordActivity updates sender activity and returns the senders that are
// hot after this batch. It must be called with e.mu held.
func (e *Engine) recordActivity(pending []Transaction, now time.Time) map[string]bool {
	var hot map[string]bool
	for _, tx := range pending {
		if tx.Sender == "" {
			continue
		}
		a, ok := e.senders[tx.Sender]
		if !ok {
			a = &senderActivity{}
			e.senders[tx.Sender] = a
		}
		if now.Sub(a.lastSeen) > e.cfg.RecencyWindow {
			a.count = 0
		}
		a.count++
		a.lastSeen = now
		if a.count > e.cfg.HotSenderThreshold {
			if hot == nil {
				hot = make(map[string]bool)
			}
			hot[tx.Sender] = true
		}
	}

	if len(e.senders) > e.cfg.MaxTrackedSenders {
		e.pruneSendersLocked(now)
	}
	return hot
}

// pruneSendersLocked drops idle senders. When every tracked sender is
// still active the table is reset so it cannot grow past the limit.
func (e *Engine) pruneSendersLocked(now time.Time) {
	for id, a := range e.senders {
		if now.Sub(a.lastSeen) > e.cfg.RecencyWindow {
			delete(e.senders, id)
		}
	}
	if len(e.senders) > e.cfg.MaxTrackedSenders {
		e.logger.Debug().Int("senders", len(e.senders)).Msg("sender table full, resetting")
		e.senders = make(map[string]*senderActivity)
	}
}

// cluster groups the transactions of hot senders at the position of their
// first member, keeping every other relative order.
func cluster(ranked []Scored, hot map[string]bool) []Scored {
	bySender := make(map[string][]int)
	for i, s := range ranked {
		if hot[s.Sender] {
			bySender[s.Sender] = append(bySender[s.Sender], i)
		}
	}

	out := make([]Scored, 0, len(ranked))
	emitted := make(map[string]bool, len(bySender))
	for _, s := range ranked {
		if !hot[s.Sender] {
			out = append(out, s)
			continue
		}
		if emitted[s.Sender] {
			continue
		}
		emitted[s.Sender] = true
		for _, idx := range bySender[s.Sender] {
			out = append(out, ranked[idx])
		}
	}
	return out
}

// Groups partitions pending by sender, preserving input order within each
// group. Transactions from different senders may execute in parallel.
func Groups(pending []Transaction) map[string][]Transaction {
	groups := make(map[string][]Transaction)
	for _, tx := range pending {
		sender := tx.Sender
		if sender == "" {
			sender = "unknown"
		}
		groups[sender] = append(groups[sender], tx)
	}
	return groups
}

// RecordBatchThroughput reports the throughput of the batch just executed.
// Every LearningInterval batches, a throughput gain above MinGain over the
// previous batch shifts weight from size toward hotness.
func (e *Engine) RecordBatchThroughput(throughput float64) (bool, error) {
	if math.IsNaN(throughput) || math.IsInf(throughput, 0) || throughput <= 0 {
		return false, nil
	}

	e.adaptMu.Lock()
	defer e.adaptMu.Unlock()

	e.batches++
	prev := e.lastThroughput
	e.lastThroughput = throughput
	if e.batches%uint64(e.cfg.LearningInterval) != 0 || prev <= 0 {
		return false, nil
	}

	gain := (throughput - prev) / prev
	if gain <= e.cfg.MinGain {
		return false, nil
	}

	w := e.Weights()
	values := w.Values()
	step := e.cfg.AdaptationStep * math.Min(1, gain/0.1)
	adj := math.Min(step, math.Min(e.cfg.MaxHotnessWeight-values[hotnessIdx], values[sizeIdx]-e.cfg.MinSizeWeight))
	if adj <= 0 {
		return false, nil
	}
	values[hotnessIdx] += adj
	values[sizeIdx] -= adj

	next, err := w.WithValues(values)
	if err != nil {
		return false, fmt.Errorf("failed to adapt ordering weights: %w", err)
	}
	if e.models != nil {
		_, err := e.models.ApplyUpdate(lifecycle.KindOrdering, next)
		if errors.Is(err, lifecycle.ErrReadOnly) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to adapt ordering weights: %w", err)
		}
	} else {
		e.local.Store(&next)
	}
	e.adaptations.Add(1)

	e.logger.Info().
		Float64("gain", gain).
		Float64("adjustment", adj).
		Str("weights", next.String()).
		Msg("ordering weights adapted")
	return true, nil
}

// Statistics returns a snapshot of engine state.
func (e *Engine) Statistics() Statistics {
	e.mu.Lock()
	cached, senders := e.cache.Len(), len(e.senders)
	e.mu.Unlock()
	e.adaptMu.Lock()
	last := e.lastThroughput
	e.adaptMu.Unlock()

	return Statistics{
		Ordered:        e.ordered.Load(),
		Batches:        e.calls.Load(),
		Adaptations:    e.adaptations.Load(),
		CachedFeatures: cached,
		CacheHits:      e.cacheHits.Load(),
		CacheMisses:    e.cacheMisses.Load(),
		TrackedSenders: senders,
		AvgLatency:     time.Duration(e.latency.Mean()),
		LastThroughput: last,
		Weights:        e.Weights(),
	}
}
