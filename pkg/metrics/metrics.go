package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Batch metrics
	BatchSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_batch_size",
			Help: "Current recommended batch size",
		},
	)

	BatchDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_batch_decisions_total",
			Help: "Batch optimizer decisions by reason",
		},
		[]string{"reason"},
	)

	BatchImprovements = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_batch_improvements_total",
			Help: "Number of batch adjustments that improved on the best throughput",
		},
	)

	// Balancer metrics
	AssignmentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_assignments_total",
			Help: "Total number of assignments made by the load balancer",
		},
	)

	AssignmentFallbacks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_assignment_fallbacks_total",
			Help: "Assignments redirected away from an overloaded target",
		},
	)

	BalancerAccuracy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_balancer_accuracy",
			Help: "Share of assignments with a good outcome",
		},
	)

	BalancerLearningRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_balancer_learning_rate",
			Help: "Learning rate of the last assignment training run",
		},
	)

	TargetLoad = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cadence_target_load",
			Help: "Reported load of each shard or validator",
		},
		[]string{"target"},
	)

	// Model metrics
	ModelWeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cadence_model_weight",
			Help: "Active model weight by model kind and feature",
		},
		[]string{"kind", "feature"},
	)

	ModelAccuracy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cadence_model_accuracy",
			Help: "Accuracy of the Active model version",
		},
		[]string{"kind"},
	)

	ModelTransitions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cadence_model_transitions_total",
			Help: "Model lifecycle transitions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cadence_training_cycle_duration_seconds",
			Help:    "Duration of training cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trainer"},
	)

	// Ordering metrics
	TransactionsOrdered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_transactions_ordered_total",
			Help: "Total number of transactions ranked by the ordering engine",
		},
	)

	OrderingCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_ordering_cached_features",
			Help: "Number of cached transaction feature sets",
		},
	)

	// Anomaly metrics
	AnomaliesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cadence_anomalies_total",
			Help: "Detected anomalies by type",
		},
		[]string{"type"},
	)

	// Consensus metrics
	ConsensusTimeout = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_consensus_timeout_seconds",
			Help: "Most recently recommended election timeout",
		},
	)

	ConsensusTrackedNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_consensus_tracked_nodes",
			Help: "Number of nodes with heartbeat history",
		},
	)

	PartitionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_partitions_detected_total",
			Help: "Number of partition detections",
		},
	)

	// Replication metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	EventsDropped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_events_dropped_total",
			Help: "Events dropped because the broker queue was full",
		},
	)

	EventsSkipped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_events_skipped_total",
			Help: "Event deliveries skipped because a subscriber buffer was full",
		},
	)
)

func init() {
	prometheus.MustRegister(BatchSize)
	prometheus.MustRegister(BatchDecisionsTotal)
	prometheus.MustRegister(BatchImprovements)
	prometheus.MustRegister(AssignmentsTotal)
	prometheus.MustRegister(AssignmentFallbacks)
	prometheus.MustRegister(BalancerAccuracy)
	prometheus.MustRegister(BalancerLearningRate)
	prometheus.MustRegister(TargetLoad)
	prometheus.MustRegister(ModelWeight)
	prometheus.MustRegister(ModelAccuracy)
	prometheus.MustRegister(ModelTransitions)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(TransactionsOrdered)
	prometheus.MustRegister(OrderingCacheSize)
	prometheus.MustRegister(AnomaliesTotal)
	prometheus.MustRegister(ConsensusTimeout)
	prometheus.MustRegister(ConsensusTrackedNodes)
	prometheus.MustRegister(PartitionsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(EventsSkipped)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Mux serves /metrics, /health, /ready and /live.
func Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/ready", ReadyHandler())
	mux.HandleFunc("/live", LivenessHandler())
	return mux
}
