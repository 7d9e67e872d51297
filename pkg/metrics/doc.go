/*
Package metrics exposes cadence's Prometheus collectors and health endpoints.

# Collectors

All collectors are registered on the default registry at init and carry the
cadence_ prefix:

	cadence_batch_size                        gauge
	cadence_batch_decisions_total{reason}     counter
	cadence_assignments_total                 gauge (polled)
	cadence_balancer_accuracy                 gauge
	cadence_target_load{target}               gauge
	cadence_model_weight{kind,feature}        gauge
	cadence_model_accuracy{kind}              gauge
	cadence_model_transitions_total{kind,outcome}
	cadence_training_cycle_duration_seconds{trainer}
	cadence_transactions_ordered_total        gauge (polled)
	cadence_anomalies_total{type}             gauge (polled)
	cadence_consensus_timeout_seconds         gauge
	cadence_raft_is_leader                    gauge

Totals kept by the components themselves are mirrored into gauges by the
engine's metrics collector; event-driven values such as batch decisions are
updated where they happen.

# Health

A HealthChecker tracks named components. /health is unhealthy when any
component is; /ready additionally requires every critical component to have
registered. /live always answers 200.

	mux := metrics.Mux()
	metrics.UpdateComponent("engine", true, "")
	http.ListenAndServe(":9090", mux)

# Timing

	timer := metrics.NewTimer()
	result, err := lifecycle.RunCycle(ctx)
	timer.ObserveDurationVec(metrics.CycleDuration, "lifecycle")
*/
package metrics
