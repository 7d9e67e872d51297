/*
Package replication keeps model versions identical across engine replicas
using hashicorp/raft.

Every transition on the leader's lifecycle manager (promotion, trainer
update or rollback) is submitted as a JSON Command. Once committed, every
member's FSM installs the same Active and Previous versions through
lifecycle.Manager.Restore. Records carry the model generation, and a
record that is not newer than the local state is ignored. The leader
therefore applies its own entries harmlessly, even when a later
transition has already happened locally. The engine keeps followers
read-only, so their models only move through the log.

# Commands

	{"op": "install", "data": {"kind": ..., "active": ..., "previous": ..., "generation": 7}}

# Storage

	<data_dir>/raft-log.db     raft log (raft-boltdb)
	<data_dir>/raft-stable.db  term and vote (raft-boltdb)
	<data_dir>/snapshots/      FSM snapshots, two retained

Snapshots are a JSON list of Records, one per registered kind. Kinds present
in a snapshot but not registered locally are skipped.

# Timeouts

NewNode hands the raft.Config to a Tuner before start, normally the
consensus Advisor, so heartbeat and election timeouts begin inside the
advisor's bounds and later ReloadConfig calls validate.
*/
package replication
