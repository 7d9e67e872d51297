/*
Package engine wires the cadence optimizers together.

An Engine owns one instance of every component and the lifecycle manager
that holds their models:

	lifecycle.Manager   assignment + ordering models (Active/Candidate/Previous)
	balancer.Balancer   reads "assignment", trains it from feedback
	ordering.Engine     reads "ordering", adapts it from batch throughput
	batch.Optimizer     batch size from performance samples
	anomaly.Detector    transaction and performance anomalies
	consensus.Advisor   leader prediction, election timeouts, partitions

Push calls (RecordPerformance, RecordFeedback, RecordHeartbeat,
UpdateTarget) and pull calls (Assign, Order, CheckTransaction,
PredictLeader, DetectPartition, Stats) are safe for concurrent use and
never block on I/O.

# Background tasks

Start launches, under one errgroup:

  - the event log, draining the broker into the engine logger
  - the consensus tuning loop (every consensus.tune_interval)
  - the experience snapshot loop (every storage.snapshot_interval)
  - the model publish loop
  - the raft observer feeding the advisor, when replication is enabled

The balancer training loop, the lifecycle loop and the MetricsCollector run
on their own tickers. Stop cancels everything, waits for in-flight training,
writes a final experience snapshot and shuts raft and storage down.

# Persistence and replication

Every model transition reaches onModelChange, which only queues the newest
state per kind. The publish loop then writes the record and version history
to BoltDB, restored by the next New, and on the leader submits the state to
raft. Stop flushes the queue first. Followers are read-only: their models
change only through the raft log.
*/
package engine
