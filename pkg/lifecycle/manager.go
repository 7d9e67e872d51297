package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/cadence/pkg/events"
	"github.com/cuemby/cadence/pkg/log"
	"github.com/cuemby/cadence/pkg/metrics"
	"github.com/cuemby/cadence/pkg/replay"
	"github.com/cuemby/cadence/pkg/stats"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownModel      = errors.New("unknown model")
	ErrModelExists       = errors.New("model already registered")
	ErrNoPreviousVersion = errors.New("no previous version to roll back to")
	ErrStopped           = errors.New("lifecycle manager stopped")
	ErrReadOnly          = errors.New("model updates are disabled on this node")
)

// ExperienceSource supplies recent experiences for training. The replay
// buffer implements it.
type ExperienceSource interface {
	Recent(n int) []replay.Experience
}

// Observer is notified after every state transition, outside of any
// manager lock. Concurrent transitions may be delivered out of order;
// State.Generation gives the order.
type Observer func(kind string, st State)

// CycleResult describes the outcome of one training cycle for one model.
type CycleResult struct {
	Kind              string
	Promoted          bool
	Skipped           bool
	CandidateAccuracy float64
	Corrections       int
	LearningRate      float64
	Reason            string
	Err               error
}

// ModelStatistics is a point-in-time view of one model.
type ModelStatistics struct {
	Kind              string
	ActiveID          string
	ActiveAccuracy    float64
	PreviousID        string
	LearningRate      float64
	CandidateAccuracy float64
	Cycles            uint64
	Promotions        uint64
	Rejections        uint64
	Failures          uint64
	Rollbacks         uint64
	Updates           uint64
}

type slot struct {
	kind   string
	state  atomic.Pointer[State]
	source ExperienceSource

	// guarded by Manager.writeMu
	learningRate      float64
	candidateAccuracy float64

	cycles     atomic.Uint64
	promotions atomic.Uint64
	rejections atomic.Uint64
	failures   atomic.Uint64
	rollbacks  atomic.Uint64
	updates    atomic.Uint64
}

// Manager owns the model versions consumed by the balancer and the ordering
// engine. Reads are wait-free; every transition is serialized and published
// as a new immutable State.
type Manager struct {
	cfg       Config
	now       func() time.Time
	publisher events.Publisher
	logger    zerolog.Logger
	writable  func() bool

	slots atomic.Pointer[map[string]*slot]
	regMu sync.Mutex

	writeMu   sync.Mutex
	observers []Observer

	processed atomic.Uint64
	trigger   chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}

	lifeMu   sync.Mutex
	started  bool
	stopped  bool
	inflight sync.WaitGroup
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPublisher sends model events to p.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithWritable gates local transitions. While writable returns false,
// cycles are skipped and ApplyUpdate and Rollback fail with ErrReadOnly;
// Restore is unaffected.
func WithWritable(writable func() bool) Option {
	return func(m *Manager) { m.writable = writable }
}

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// NewManager creates a lifecycle manager with no models.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		now:       time.Now,
		publisher: events.Discard,
		logger:    log.WithComponent("lifecycle"),
		writable:  func() bool { return true },
		trigger:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	empty := map[string]*slot{}
	m.slots.Store(&empty)
	return m
}

// Register adds a model kind with its initial weights at generation zero.
// source may be nil for models that are only updated through ApplyUpdate.
func (m *Manager) Register(kind string, initial Weights, source ExperienceSource) error {
	if initial.Len() == 0 {
		return fmt.Errorf("failed to register %s: %w", kind, ErrInvalidWeights)
	}

	m.regMu.Lock()
	defer m.regMu.Unlock()

	current := *m.slots.Load()
	if _, ok := current[kind]; ok {
		return fmt.Errorf("failed to register %s: %w", kind, ErrModelExists)
	}

	s := &slot{kind: kind, source: source, learningRate: m.cfg.LearningRate}
	s.state.Store(&State{Active: newVersion(kind, initial, m.cfg.InitialAccuracy, m.now())})

	next := make(map[string]*slot, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[kind] = s
	m.slots.Store(&next)
	return nil
}

func (m *Manager) slot(kind string) (*slot, error) {
	s, ok := (*m.slots.Load())[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, kind)
	}
	return s, nil
}

// Kinds returns the registered model kinds, sorted.
func (m *Manager) Kinds() []string {
	slots := *m.slots.Load()
	kinds := make([]string, 0, len(slots))
	for k := range slots {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Snapshot returns the Active weights of kind, or the empty vector when the
// kind is unknown. It never blocks.
func (m *Manager) Snapshot(kind string) Weights {
	s, ok := (*m.slots.Load())[kind]
	if !ok {
		return Weights{}
	}
	return s.state.Load().Active.Weights
}

// State returns the current role assignment of kind.
func (m *Manager) State(kind string) (State, error) {
	s, err := m.slot(kind)
	if err != nil {
		return State{}, err
	}
	return *s.state.Load(), nil
}

// LearningRate returns the current learning rate of kind.
func (m *Manager) LearningRate(kind string) float64 {
	s, err := m.slot(kind)
	if err != nil {
		return 0
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return s.learningRate
}

// Observe counts processed units and schedules a cycle every
// UpdateInterval units. It never blocks.
func (m *Manager) Observe(units int) {
	if units <= 0 {
		return
	}
	interval := uint64(m.cfg.UpdateInterval)
	total := m.processed.Add(uint64(units))
	if interval == 0 || total/interval == (total-uint64(units))/interval {
		return
	}
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Start runs cycles in the background whenever Observe crosses an update
// boundary or the cycle interval elapses.
func (m *Manager) Start() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true
	go m.run()
}

// Stop stops accepting cycles and waits for in-flight cycles to finish.
// It is safe to call more than once.
func (m *Manager) Stop() {
	m.lifeMu.Lock()
	if m.stopped {
		m.lifeMu.Unlock()
		return
	}
	m.stopped = true
	started := m.started
	m.lifeMu.Unlock()

	close(m.stopCh)
	if started {
		<-m.doneCh
	}
	m.inflight.Wait()
}

// begin registers an in-flight cycle unless the manager is stopped.
func (m *Manager) begin() bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.stopped {
		return false
	}
	m.inflight.Add(1)
	return true
}

func (m *Manager) run() {
	defer close(m.doneCh)

	var tick <-chan time.Time
	if m.cfg.CycleInterval > 0 {
		ticker := time.NewTicker(m.cfg.CycleInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-m.trigger:
		case <-tick:
		case <-m.stopCh:
			return
		}
		if _, err := m.RunCycle(context.Background()); err != nil && !errors.Is(err, ErrStopped) {
			m.logger.Error().Err(err).Msg("training cycle failed")
		}
	}
}

// RunCycle trains, evaluates and possibly promotes a candidate for every
// model that has an experience source. Per-model failures are reported in
// the results and never touch the Active version. The returned error is
// only set when the manager is stopped or ctx is done before a model is
// started.
func (m *Manager) RunCycle(ctx context.Context) ([]CycleResult, error) {
	if !m.begin() {
		return nil, ErrStopped
	}
	defer m.inflight.Done()

	var results []CycleResult
	for _, kind := range m.Kinds() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		s, err := m.slot(kind)
		if err != nil || s.source == nil {
			continue
		}

		m.writeMu.Lock()
		res := m.runSlot(s)
		st := *s.state.Load()
		m.writeMu.Unlock()

		if res.Promoted {
			m.notify(kind, st)
		}
		results = append(results, res)
	}
	return results, nil
}

// RunModelCycle runs a cycle for a single model kind.
func (m *Manager) RunModelCycle(kind string) (CycleResult, error) {
	if !m.begin() {
		return CycleResult{}, ErrStopped
	}
	defer m.inflight.Done()
	s, err := m.slot(kind)
	if err != nil {
		return CycleResult{}, err
	}
	if s.source == nil {
		return CycleResult{Kind: kind, Skipped: true, Reason: "no experience source"}, nil
	}

	m.writeMu.Lock()
	res := m.runSlot(s)
	st := *s.state.Load()
	m.writeMu.Unlock()

	if res.Promoted {
		m.notify(kind, st)
	}
	return res, nil
}

// runSlot executes one cycle. Caller holds writeMu.
func (m *Manager) runSlot(s *slot) (res CycleResult) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CycleDuration, s.kind)

	before := s.state.Load()
	res = CycleResult{Kind: s.kind, LearningRate: s.learningRate}
	if !m.writable() {
		res.Skipped = true
		res.Reason = ErrReadOnly.Error()
		return res
	}
	s.cycles.Add(1)

	defer func() {
		if r := recover(); r != nil {
			res = m.abort(s, before, fmt.Errorf("panic during training: %v", r))
		}
	}()

	exps := s.source.Recent(m.cfg.TrainingSamples)
	if len(exps) < m.cfg.MinExperiences {
		res.Skipped = true
		res.Reason = fmt.Sprintf("insufficient experiences: %d < %d", len(exps), m.cfg.MinExperiences)
		return res
	}

	abCount := int(math.Ceil(float64(len(exps)) * m.cfg.ABTestRatio))
	if abCount < 1 {
		abCount = 1
	}
	if abCount >= len(exps) {
		abCount = len(exps) - 1
	}
	trainSet := exps[:len(exps)-abCount]
	abSet := exps[len(exps)-abCount:]

	candidateWeights, corrections, err := m.train(before.Active.Weights, trainSet, s.learningRate)
	if err != nil {
		return m.abort(s, before, fmt.Errorf("failed to train candidate: %w", err))
	}

	accuracy, err := m.evaluate(candidateWeights, abSet)
	if err != nil {
		return m.abort(s, before, fmt.Errorf("failed to evaluate candidate: %w", err))
	}

	candidate := newVersion(s.kind, candidateWeights, accuracy, m.now())
	s.state.Store(&State{Active: before.Active, Candidate: candidate, Previous: before.Previous, Generation: before.Generation})
	s.candidateAccuracy = accuracy

	res.CandidateAccuracy = accuracy
	res.Corrections = corrections
	logger := log.WithModel("lifecycle", s.kind)

	if accuracy > m.cfg.AccuracyThreshold {
		s.state.Store(&State{Active: candidate, Previous: before.Active, Generation: before.Generation + 1})
		s.promotions.Add(1)
		res.Promoted = true
		res.Reason = fmt.Sprintf("candidate accuracy %.4f > %.4f", accuracy, m.cfg.AccuracyThreshold)

		logger.Info().
			Str("version", candidate.ID).
			Float64("accuracy", accuracy).
			Int("corrections", corrections).
			Msg("candidate promoted")
		m.publisher.Publish(events.NewEvent(events.EventModelPromoted, res.Reason, map[string]string{
			"kind":    s.kind,
			"version": candidate.ID,
		}))
	} else {
		s.state.Store(before)
		s.rejections.Add(1)
		res.Reason = fmt.Sprintf("candidate accuracy %.4f <= %.4f", accuracy, m.cfg.AccuracyThreshold)

		logger.Warn().
			Float64("accuracy", accuracy).
			Float64("threshold", m.cfg.AccuracyThreshold).
			Msg("candidate rejected")
		m.publisher.Publish(events.NewEvent(events.EventModelRejected, res.Reason, map[string]string{
			"kind": s.kind,
		}))
	}

	s.learningRate = m.adaptLearningRate(s.learningRate, accuracy-before.Active.Accuracy)
	res.LearningRate = s.learningRate
	return res
}

func (m *Manager) abort(s *slot, before *State, err error) CycleResult {
	s.state.Store(before)
	s.failures.Add(1)

	logger := log.WithModel("lifecycle", s.kind)
	logger.Error().Err(err).Msg("training cycle aborted")
	m.publisher.Publish(events.NewEvent(events.EventTrainingFailed, err.Error(), map[string]string{
		"kind": s.kind,
	}))
	return CycleResult{Kind: s.kind, LearningRate: s.learningRate, Reason: "training failure", Err: err}
}

// label returns whether an outcome counts as a good decision.
func (m *Manager) label(o replay.Outcome) bool {
	return o.Success && o.Load < m.cfg.LoadThreshold
}

// train copies active and applies a perceptron step on every mispredicted
// experience.
func (m *Manager) train(active Weights, exps []replay.Experience, lr float64) (Weights, int, error) {
	values := active.Values()
	names := active.Names()
	corrections := 0

	for _, exp := range exps {
		if len(exp.Features) != len(values) {
			return Weights{}, 0, fmt.Errorf("%w: got %d features, want %d", ErrDimensionMismatch, len(exp.Features), len(values))
		}
		score := 0.0
		for i, f := range exp.Features {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return Weights{}, 0, fmt.Errorf("%w: non-finite feature %d", ErrInvalidWeights, i)
			}
			score += values[i] * f
		}

		predicted := score >= m.cfg.DecisionThreshold
		actual := m.label(exp.Outcome)
		if predicted == actual {
			continue
		}

		sign := -1.0
		if actual {
			sign = 1.0
		}
		for i, f := range exp.Features {
			values[i] += sign * lr * f
		}
		w, err := NewWeights(names, values)
		if err != nil {
			return Weights{}, 0, err
		}
		values = w.values
		corrections++
	}

	w, err := NewWeights(names, values)
	return w, corrections, err
}

// evaluate measures agreement between candidate predictions and outcomes.
func (m *Manager) evaluate(w Weights, exps []replay.Experience) (float64, error) {
	if len(exps) == 0 {
		return 0, stats.ErrInsufficientData
	}
	correct := 0
	for _, exp := range exps {
		score, err := w.Dot(exp.Features)
		if err != nil {
			return 0, err
		}
		if (score >= m.cfg.DecisionThreshold) == m.label(exp.Outcome) {
			correct++
		}
	}
	return float64(correct) / float64(len(exps)), nil
}

func (m *Manager) adaptLearningRate(lr, improvement float64) float64 {
	switch {
	case improvement > 0.01:
		lr *= 1.2
	case improvement < -0.01:
		lr *= 0.8
	default:
		lr *= 1.05
	}
	return stats.Clamp(lr, m.cfg.MinLearningRate, m.cfg.MaxLearningRate)
}

// Rollback restores the Previous version of kind as Active. Only one
// generation is retained, so a second rollback fails until the next
// promotion.
func (m *Manager) Rollback(kind string) error {
	s, err := m.slot(kind)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	if !m.writable() {
		m.writeMu.Unlock()
		return fmt.Errorf("failed to roll back %s: %w", kind, ErrReadOnly)
	}
	cur := s.state.Load()
	if cur.Previous == nil {
		m.writeMu.Unlock()
		return fmt.Errorf("failed to roll back %s: %w", kind, ErrNoPreviousVersion)
	}
	next := &State{Active: cur.Previous, Generation: cur.Generation + 1}
	s.state.Store(next)
	s.rollbacks.Add(1)
	m.writeMu.Unlock()

	logger := log.WithModel("lifecycle", kind)
	logger.Warn().
		Str("from", cur.Active.ID).
		Str("to", next.Active.ID).
		Msg("model rolled back")
	m.publisher.Publish(events.NewEvent(events.EventModelRolledBack, "rolled back to "+next.Active.ID, map[string]string{
		"kind":    kind,
		"version": next.Active.ID,
	}))
	m.notify(kind, *next)
	return nil
}

// ApplyUpdate installs trainer-computed weights as the new Active version.
// It refines the active lineage rather than promoting: the version keeps
// the accuracy measured at the last gated promotion and Previous stays
// pinned to the version that promotion replaced, so Rollback still undoes
// the promotion.
func (m *Manager) ApplyUpdate(kind string, w Weights) (*ModelVersion, error) {
	s, err := m.slot(kind)
	if err != nil {
		return nil, err
	}

	m.writeMu.Lock()
	if !m.writable() {
		m.writeMu.Unlock()
		return nil, fmt.Errorf("failed to update %s: %w", kind, ErrReadOnly)
	}
	cur := s.state.Load()
	if !sameShape(cur.Active.Weights, w) {
		m.writeMu.Unlock()
		return nil, fmt.Errorf("failed to update %s: %w", kind, ErrDimensionMismatch)
	}
	version := newVersion(kind, w, cur.Active.Accuracy, m.now())
	next := &State{Active: version, Previous: cur.Previous, Generation: cur.Generation + 1}
	s.state.Store(next)
	s.updates.Add(1)
	m.writeMu.Unlock()

	logger := log.WithModel("lifecycle", kind)
	logger.Debug().
		Str("version", version.ID).
		Str("weights", w.String()).
		Uint64("generation", next.Generation).
		Msg("model updated")
	m.publisher.Publish(events.NewEvent(events.EventModelUpdated, w.String(), map[string]string{
		"kind":    kind,
		"version": version.ID,
	}))
	m.notify(kind, *next)
	return version, nil
}

// Restore installs externally supplied roles, for warm starts and
// replicated state. Installing the current Active again is a no-op, and
// once the model has seen a transition a State whose Generation is not
// newer is ignored. Observers are not notified.
func (m *Manager) Restore(kind string, st State) error {
	s, err := m.slot(kind)
	if err != nil {
		return err
	}
	if st.Active == nil {
		return fmt.Errorf("failed to restore %s: %w", kind, ErrInvalidWeights)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := s.state.Load()
	if !sameShape(cur.Active.Weights, st.Active.Weights) {
		return fmt.Errorf("failed to restore %s: %w", kind, ErrDimensionMismatch)
	}
	previous := st.Previous
	if previous != nil && !sameShape(cur.Active.Weights, previous.Weights) {
		previous = nil
	}
	if cur.Active.ID == st.Active.ID && (previous == nil || (cur.Previous != nil && cur.Previous.ID == previous.ID)) {
		return nil
	}
	if cur.Generation > 0 && st.Generation <= cur.Generation {
		m.logger.Debug().
			Str("model", kind).
			Uint64("generation", st.Generation).
			Uint64("current", cur.Generation).
			Msg("ignoring stale model state")
		return nil
	}
	s.state.Store(&State{Active: st.Active, Previous: previous, Generation: st.Generation})
	return nil
}

func (m *Manager) notify(kind string, st State) {
	for _, o := range m.observers {
		o(kind, st)
	}
}

// Statistics returns per-model counters, sorted by kind.
func (m *Manager) Statistics() []ModelStatistics {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	var out []ModelStatistics
	for _, kind := range m.Kinds() {
		s := (*m.slots.Load())[kind]
		st := s.state.Load()
		ms := ModelStatistics{
			Kind:              kind,
			ActiveID:          st.Active.ID,
			ActiveAccuracy:    st.Active.Accuracy,
			LearningRate:      s.learningRate,
			CandidateAccuracy: s.candidateAccuracy,
			Cycles:            s.cycles.Load(),
			Promotions:        s.promotions.Load(),
			Rejections:        s.rejections.Load(),
			Failures:          s.failures.Load(),
			Rollbacks:         s.rollbacks.Load(),
			Updates:           s.updates.Load(),
		}
		if st.Previous != nil {
			ms.PreviousID = st.Previous.ID
		}
		out = append(out, ms)
	}
	return out
}

func sameShape(a, b Weights) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i := range a.names {
		if a.names[i] != b.names[i] {
			return false
		}
	}
	return true
}
