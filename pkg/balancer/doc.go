// Package balancer places transactions on shards and validators.
//
// Each target is scored by the Active assignment weights over four
// normalized features: spare load, latency, capacity and reliability.
// Overloaded winners fall back to the least loaded healthy target.
// Outcomes recorded through RecordFeedback land in a replay buffer that
// both the momentum trainer in this package and the lifecycle manager
// sample from.
package balancer
