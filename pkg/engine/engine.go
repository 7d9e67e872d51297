package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/cadence/pkg/anomaly"
	"github.com/cuemby/cadence/pkg/balancer"
	"github.com/cuemby/cadence/pkg/batch"
	"github.com/cuemby/cadence/pkg/config"
	"github.com/cuemby/cadence/pkg/consensus"
	"github.com/cuemby/cadence/pkg/events"
	"github.com/cuemby/cadence/pkg/lifecycle"
	"github.com/cuemby/cadence/pkg/log"
	"github.com/cuemby/cadence/pkg/metrics"
	"github.com/cuemby/cadence/pkg/ordering"
	"github.com/cuemby/cadence/pkg/replication"
	"github.com/cuemby/cadence/pkg/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("engine already started")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("engine stopped")
)

// Engine wires the optimizers together and runs their periodic tasks.
type Engine struct {
	cfg    config.Config
	now    func() time.Time
	logger zerolog.Logger

	broker    *events.Broker
	models    *lifecycle.Manager
	balancer  *balancer.Balancer
	ordering  *ordering.Engine
	batch     *batch.Optimizer
	anomaly   *anomaly.Detector
	advisor   *consensus.Advisor
	collector *MetricsCollector

	store     storage.Store
	ownsStore bool
	fsm       *replication.FSM
	node      atomic.Pointer[replication.Node]

	// Model transitions are coalesced per kind and written out by
	// publishLoop. saved and published are owned by the publisher.
	publishMu sync.Mutex
	pending   map[string]lifecycle.State
	publishCh chan struct{}
	saved     map[string]lifecycle.State
	published map[string]uint64

	// startedAt is the start time in unix nanoseconds, zero when not
	// running.
	startedAt atomic.Int64

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now for every component.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStore injects a model store, overriding the storage section of the
// configuration. The caller keeps ownership and closes it.
func WithStore(s storage.Store) Option {
	return func(e *Engine) { e.store = s }
}

// New validates cfg and builds every component. When storage is
// configured, persisted models and experiences are restored before New
// returns.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		now:    time.Now,
		logger: log.WithComponent("engine"),
		broker: events.NewBroker(),

		pending:   make(map[string]lifecycle.State),
		publishCh: make(chan struct{}, 1),
		saved:     make(map[string]lifecycle.State),
		published: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.models = lifecycle.NewManager(cfg.Lifecycle,
		lifecycle.WithClock(e.now),
		lifecycle.WithPublisher(e.broker),
		lifecycle.WithObserver(e.onModelChange),
		lifecycle.WithWritable(e.writable),
	)
	e.balancer = balancer.NewBalancer(cfg.Balancer, e.models)
	e.ordering = ordering.NewEngine(cfg.Ordering, e.models, ordering.WithClock(e.now))
	e.batch = batch.NewOptimizer(cfg.Batch, batch.WithClock(e.now), batch.WithPublisher(e.broker))
	e.anomaly = anomaly.NewDetector(cfg.Anomaly, anomaly.WithClock(e.now), anomaly.WithPublisher(e.broker))
	e.advisor = consensus.NewAdvisor(cfg.Consensus, consensus.WithClock(e.now), consensus.WithPublisher(e.broker))
	e.fsm = replication.NewFSM(e.models)
	e.collector = NewMetricsCollector(e, cfg.Metrics.PollInterval)

	if err := e.models.Register(lifecycle.KindAssignment, balancer.DefaultWeights(), e.balancer.Experiences()); err != nil {
		return nil, fmt.Errorf("failed to register assignment model: %w", err)
	}
	if err := e.models.Register(lifecycle.KindOrdering, ordering.DefaultWeights(), nil); err != nil {
		return nil, fmt.Errorf("failed to register ordering model: %w", err)
	}

	if e.store == nil && cfg.Storage.Enabled {
		store, err := storage.NewBoltStore(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		e.store = store
		e.ownsStore = true
	}
	if e.store != nil {
		e.warmStart()
	}

	return e, nil
}

// Start launches the background tasks. They run until Stop or until ctx
// is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrStopped
	}
	if e.started {
		return ErrAlreadyStarted
	}

	e.broker.Start()

	if e.cfg.Raft.Enabled {
		node, err := replication.NewNode(replication.Config{
			NodeID:       e.cfg.Raft.NodeID,
			BindAddr:     e.cfg.Raft.BindAddr,
			DataDir:      e.cfg.Raft.DataDir,
			Bootstrap:    e.cfg.Raft.Bootstrap,
			ApplyTimeout: e.cfg.Raft.ApplyTimeout,
			Timeout:      e.cfg.Consensus.MaxTimeout,
		}, e.fsm, e.advisor)
		if err != nil {
			e.broker.Stop()
			metrics.UpdateComponent("raft", false, err.Error())
			return fmt.Errorf("failed to start replication: %w", err)
		}
		e.node.Store(node)
		metrics.UpdateComponent("raft", true, "")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	e.cancel = cancel
	e.group = g

	sub := e.broker.Subscribe()
	g.Go(func() error { return e.logEvents(gctx, sub) })
	g.Go(func() error { return e.publishLoop(gctx) })

	if node := e.node.Load(); node != nil {
		g.Go(func() error { return e.advisor.Watch(gctx, node.Raft()) })
	}
	if e.cfg.Consensus.Enabled && e.cfg.Consensus.TuneInterval > 0 {
		g.Go(func() error { return e.tuneLoop(gctx) })
	}
	if e.store != nil && e.cfg.Storage.SnapshotInterval > 0 {
		g.Go(func() error { return e.snapshotLoop(gctx) })
	}

	e.balancer.Start()
	e.models.Start()
	if e.cfg.Metrics.Enabled {
		e.collector.Start()
	}

	e.started = true
	e.startedAt.Store(e.now().UnixNano())
	metrics.UpdateComponent("engine", true, "running")
	metrics.UpdateComponent("lifecycle", true, "")

	e.logger.Info().
		Bool("storage", e.store != nil).
		Bool("replication", e.node.Load() != nil).
		Dur("tune_interval", e.cfg.Consensus.TuneInterval).
		Msg("engine started")
	return nil
}

// Stop cancels the background tasks, waits for in-flight training cycles,
// flushes pending model transitions, persists the experience buffer and
// releases storage and raft. It is safe
// to call more than once.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}
	e.stopped = true
	e.startedAt.Store(0)

	var errs []error
	if e.started {
		e.cancel()
		if err := e.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
		e.collector.Stop()
		e.balancer.Stop()
	}
	e.models.Stop()
	e.publishPending()

	if e.store != nil {
		if err := e.persistExperiences(); err != nil {
			errs = append(errs, err)
		}
	}
	if node := e.node.Swap(nil); node != nil {
		if err := node.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop replication: %w", err))
		}
	}
	e.broker.Stop()
	if e.ownsStore {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
		}
	}

	metrics.UpdateComponent("engine", false, "stopped")
	e.logger.Info().Msg("engine stopped")
	return errors.Join(errs...)
}

// RecordPerformance feeds a pipeline sample to the anomaly detector, the
// batch optimizer and the ordering adaptation, and returns the batch
// decision for the next interval. An anomalous sample shrinks the batch
// before the optimizer runs.
func (e *Engine) RecordPerformance(throughput, latency float64) batch.Decision {
	if rep := e.anomaly.CheckPerformance(throughput, latency); rep.Anomalous {
		e.batch.UpdateNetworkConditions(true)
	}
	d := e.batch.Optimize(throughput, latency, e.batch.Current())
	metrics.BatchDecisionsTotal.WithLabelValues(d.Reason).Inc()

	if _, err := e.ordering.RecordBatchThroughput(throughput); err != nil {
		e.logger.Debug().Err(err).Msg("ordering adaptation skipped")
	}
	return d
}

// UpdateNodePerformance shrinks the batch when the local node is under
// resource pressure.
func (e *Engine) UpdateNodePerformance(cpuPercent, memPercent float64) int {
	return e.batch.UpdateNodePerformance(cpuPercent, memPercent)
}

// CheckTransaction scores tx for transaction-pattern and security
// anomalies.
func (e *Engine) CheckTransaction(tx anomaly.Transaction) anomaly.Report {
	return e.anomaly.CheckTransaction(tx)
}

// Order returns pending in execution order and counts the transactions
// towards the next lifecycle cycle.
func (e *Engine) Order(pending []ordering.Transaction) []ordering.Transaction {
	ordered := e.ordering.ScoreAndOrder(pending)
	e.models.Observe(len(pending))
	return ordered
}

// Assign routes req to a shard or validator.
func (e *Engine) Assign(req balancer.Request) balancer.Assignment {
	return e.balancer.Assign(req)
}

// AssignValidator picks a validator offering every required capability.
func (e *Engine) AssignValidator(required []string) string {
	return e.balancer.AssignValidator(required)
}

// UpdateTarget reports the current state of a shard or validator.
func (e *Engine) UpdateTarget(t balancer.Target) {
	e.balancer.UpdateTarget(t)
}

// RemoveTarget stops routing to id.
func (e *Engine) RemoveTarget(id string) {
	e.balancer.RemoveTarget(id)
}

// RecordFeedback reports the outcome of an earlier assignment.
func (e *Engine) RecordFeedback(predictedID string, features []float64, latency, load float64, success bool) {
	e.balancer.RecordFeedback(predictedID, features, latency, load, success)
}

// RecordHeartbeat adds a consensus heartbeat sample for nodeID.
func (e *Engine) RecordHeartbeat(nodeID string, hb consensus.Heartbeat) {
	e.advisor.RecordHeartbeat(nodeID, hb)
}

// PredictLeader ranks candidates by leadership score.
func (e *Engine) PredictLeader(candidates []string) consensus.LeaderPrediction {
	return e.advisor.PredictLeader(candidates)
}

// RecommendTimeout derives an election timeout from latency statistics.
func (e *Engine) RecommendTimeout(current time.Duration, avgLatency, variance float64) consensus.TimeoutRecommendation {
	return e.advisor.RecommendTimeout(current, avgLatency, variance)
}

// DetectPartition reports nodes whose last heartbeat is older than the
// partition threshold.
func (e *Engine) DetectPartition() consensus.PartitionReport {
	return e.advisor.DetectPartition(e.advisor.LastSeen(), e.now())
}

// Train runs one assignment training pass and one lifecycle cycle.
func (e *Engine) Train(ctx context.Context) (balancer.TrainResult, []lifecycle.CycleResult, error) {
	res, err := e.balancer.Train()
	if err != nil {
		return res, nil, fmt.Errorf("failed to train balancer: %w", err)
	}
	cycles, err := e.models.RunCycle(ctx)
	if err != nil {
		return res, cycles, fmt.Errorf("failed to run lifecycle cycle: %w", err)
	}
	return res, cycles, nil
}

// Rollback restores the Previous version of kind.
func (e *Engine) Rollback(kind string) error {
	return e.models.Rollback(kind)
}

// Events returns the event broker.
func (e *Engine) Events() *events.Broker { return e.broker }

// Models returns the lifecycle manager.
func (e *Engine) Models() *lifecycle.Manager { return e.models }

// Balancer returns the load balancer.
func (e *Engine) Balancer() *balancer.Balancer { return e.balancer }

// Ordering returns the ordering engine.
func (e *Engine) Ordering() *ordering.Engine { return e.ordering }

// Batch returns the batch optimizer.
func (e *Engine) Batch() *batch.Optimizer { return e.batch }

// Anomaly returns the anomaly detector.
func (e *Engine) Anomaly() *anomaly.Detector { return e.anomaly }

// Advisor returns the consensus advisor.
func (e *Engine) Advisor() *consensus.Advisor { return e.advisor }

// Node returns the replication node, or nil when replication is disabled
// or the engine is not running.
func (e *Engine) Node() *replication.Node { return e.node.Load() }
