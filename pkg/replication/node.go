package replication

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/cadence/pkg/lifecycle"
	"github.com/cuemby/cadence/pkg/log"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// ErrNotLeader is returned when a command is submitted to a follower.
var ErrNotLeader = errors.New("not the raft leader")

// Tuner adjusts raft timeouts before the node starts.
type Tuner interface {
	TuneConfig(cfg *raft.Config, timeout time.Duration)
}

// Config holds configuration for starting a Node.
type Config struct {
	NodeID       string
	BindAddr     string
	DataDir      string
	Bootstrap    bool
	ApplyTimeout time.Duration
	// Timeout is the initial heartbeat and election timeout handed to the
	// Tuner. Zero keeps the raft defaults.
	Timeout time.Duration
}

// Node is a raft member replicating model transitions.
type Node struct {
	cfg Config
	fsm *FSM

	raft        *raft.Raft
	transport   *raft.NetworkTransport
	logStore    *raftboltdb.BoltStore
	stableStore *raftboltdb.BoltStore
}

// NewNode opens raft state under cfg.DataDir and starts the member. When
// cfg.Bootstrap is set and no prior state exists, a single-node cluster is
// bootstrapped with this node as the only voter.
func NewNode(cfg Config, fsm *FSM, tuner Tuner) (*Node, error) {
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = 5 * time.Second
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logger := log.WithNodeID("raft", cfg.NodeID)

	rc := raft.DefaultConfig()
	rc.LocalID = raft.ServerID(cfg.NodeID)
	rc.LogOutput = &logger
	if tuner != nil && cfg.Timeout > 0 {
		tuner.TuneConfig(rc, cfg.Timeout)
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}
	var advertise net.Addr
	if addr.Port != 0 {
		advertise = addr
	}

	n := &Node{cfg: cfg, fsm: fsm}

	n.transport, err = raft.NewTCPTransport(cfg.BindAddr, advertise, 3, 10*time.Second, &logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, &logger)
	if err != nil {
		n.close()
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	n.logStore, err = raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		n.close()
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	n.stableStore, err = raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		n.close()
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	existing, err := raft.HasExistingState(n.logStore, n.stableStore, snapshots)
	if err != nil {
		n.close()
		return nil, fmt.Errorf("failed to inspect raft state: %w", err)
	}

	n.raft, err = raft.NewRaft(rc, fsm, n.logStore, n.stableStore, snapshots, n.transport)
	if err != nil {
		n.close()
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	if cfg.Bootstrap && !existing {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      rc.LocalID,
					Address: n.transport.LocalAddr(),
				},
			},
		}
		if err := n.raft.BootstrapCluster(configuration).Error(); err != nil {
			_ = n.Shutdown()
			return nil, fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
	}

	logger.Info().
		Str("node_id", cfg.NodeID).
		Str("addr", string(n.transport.LocalAddr())).
		Bool("existing_state", existing).
		Msg("raft node started")

	return n, nil
}

// Raft returns the underlying raft instance.
func (n *Node) Raft() *raft.Raft { return n.raft }

// Addr returns the transport address peers use to reach this node.
func (n *Node) Addr() string { return string(n.transport.LocalAddr()) }

// IsLeader reports whether this node is the raft leader.
func (n *Node) IsLeader() bool {
	if n.raft == nil {
		return false
	}
	return n.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current raft leader, or "" when
// none is known.
func (n *Node) LeaderAddr() string {
	if n.raft == nil {
		return ""
	}
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

// AppliedIndex returns the index of the last applied log entry.
func (n *Node) AppliedIndex() uint64 {
	if n.raft == nil {
		return 0
	}
	return n.raft.AppliedIndex()
}

// Apply submits cmd to the cluster and waits until it is applied.
func (n *Node) Apply(cmd Command) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !n.IsLeader() {
		return ErrNotLeader
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := n.raft.Apply(data, n.cfg.ApplyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// Replicate submits the state of kind. Followers drop the call silently.
func (n *Node) Replicate(kind string, st lifecycle.State) error {
	if !n.IsLeader() || st.Active == nil {
		return nil
	}
	cmd, err := NewCommand(OpInstall, NewRecord(kind, st))
	if err != nil {
		return err
	}
	return n.Apply(cmd)
}

// Stats returns a summary of raft state.
func (n *Node) Stats() map[string]interface{} {
	if n.raft == nil {
		return nil
	}
	return map[string]interface{}{
		"state":          n.raft.State().String(),
		"last_log_index": n.raft.LastIndex(),
		"applied_index":  n.raft.AppliedIndex(),
		"leader":         n.LeaderAddr(),
		"fsm_applied":    n.fsm.Applied(),
	}
}

// Shutdown stops raft and closes its stores.
func (n *Node) Shutdown() error {
	var errs []error
	if n.raft != nil {
		if err := n.raft.Shutdown().Error(); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown raft: %w", err))
		}
		n.raft = nil
	}
	if err := n.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (n *Node) close() error {
	var errs []error
	if n.transport != nil {
		if err := n.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
		}
		n.transport = nil
	}
	if n.logStore != nil {
		if err := n.logStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close log store: %w", err))
		}
		n.logStore = nil
	}
	if n.stableStore != nil {
		if err := n.stableStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close stable store: %w", err))
		}
		n.stableStore = nil
	}
	return errors.Join(errs...)
}
