/*
Package lifecycle trains, validates and promotes the linear models used by
the balancer and the ordering engine.

Each model kind (KindAssignment, KindOrdering) is registered with initial
Weights and an optional ExperienceSource. The Manager keeps one slot per
kind holding the active ModelVersion, the previous one for rollback and the
weights readers score with.

# Cycles

A cycle runs when UpdateInterval units have been reported through Observe,
or on CycleInterval when that is set. For every kind with a source the
cycle:

 1. Takes the newest TrainingSamples experiences from the source and
    skips the kind when fewer than MinExperiences are available.
 2. Holds out the newest ABTestRatio share (at least one) for evaluation.
 3. Copies the active weights and applies a perceptron correction at the
    slot learning rate for every training experience they mispredict. A
    prediction is positive when w·f >= DecisionThreshold.
 4. Scores the candidate on the held out experiences.
 5. Promotes the candidate when its accuracy is strictly above
    AccuracyThreshold, otherwise rejects it and keeps the active version
    untouched.

The learning rate then grows or shrinks with the accuracy change and stays
within [MinLearningRate, MaxLearningRate]. A panic or error during a cycle
aborts it and leaves the active version as it was.

Promotion keeps the old active version as Previous, so a single Rollback
is always possible after a promotion. Rolling back clears Previous.

# Readers

Snapshot returns an immutable copy of the active weights. The swap is an
atomic pointer store, so readers on the scoring hot path never block
behind a training cycle.

# Observers

WithObserver registers a callback that receives the new State after every
promotion, update, rollback or restore that changes the active version.
The engine uses it to persist model versions and to replicate them through
raft. Observers run outside the manager's locks. Restore with the version
that is already active is a no-op and does not notify, so replicated
entries applied on the leader do not loop.

Transitions are also published on the events bus as EventModelPromoted,
EventModelRejected, EventModelRolledBack, EventModelUpdated and
EventTrainingFailed.
*/
package lifecycle
