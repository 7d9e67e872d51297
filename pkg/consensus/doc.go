// Package consensus advises the consensus layer on leadership, election
// timeouts and partitions.
//
// The Advisor keeps a bounded heartbeat history per node. It can be fed
// directly or from raft observations via Watch, and it can push its timeout
// recommendation into a running raft node with ApplyTimeout.
package consensus
