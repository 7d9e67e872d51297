package replication

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cuemby/cadence/pkg/lifecycle"
	"github.com/cuemby/cadence/pkg/log"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
)

// OpInstall installs the replicated roles of one model kind. Promotions,
// trainer updates and rollbacks all travel as installs ordered by
// generation.
const OpInstall = "install"

// Models is the subset of *lifecycle.Manager the FSM writes to.
type Models interface {
	Kinds() []string
	State(kind string) (lifecycle.State, error)
	Restore(kind string, st lifecycle.State) error
}

// Command represents a model transition in the raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Record is the replicated state of one model kind.
type Record struct {
	Kind       string                  `json:"kind"`
	Active     *lifecycle.ModelVersion `json:"active"`
	Previous   *lifecycle.ModelVersion `json:"previous,omitempty"`
	Generation uint64                  `json:"generation"`
}

// NewRecord captures the replicated roles of st.
func NewRecord(kind string, st lifecycle.State) Record {
	return Record{Kind: kind, Active: st.Active, Previous: st.Previous, Generation: st.Generation}
}

func (r Record) state() lifecycle.State {
	return lifecycle.State{Active: r.Active, Previous: r.Previous, Generation: r.Generation}
}

// NewCommand wraps rec in a command for op.
func NewCommand(op string, rec Record) (Command, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return Command{}, fmt.Errorf("failed to marshal record: %w", err)
	}
	return Command{Op: op, Data: data}, nil
}

// FSM applies committed model transitions to the local lifecycle manager.
type FSM struct {
	mu      sync.Mutex
	models  Models
	applied atomic.Uint64
	logger  zerolog.Logger
}

// NewFSM creates an FSM writing into models.
func NewFSM(models Models) *FSM {
	return &FSM{models: models, logger: log.WithComponent("replication")}
}

// Applied returns the number of commands applied successfully.
func (f *FSM) Applied() uint64 { return f.applied.Load() }

// Apply applies a committed log entry. The returned value is nil or an
// error, which raft hands back to the caller of Apply on the leader.
func (f *FSM) Apply(l *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpInstall:
		var rec Record
		if err := json.Unmarshal(cmd.Data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		if err := f.models.Restore(rec.Kind, rec.state()); err != nil {
			return err
		}
		f.applied.Add(1)
		f.logger.Debug().
			Str("model", rec.Kind).
			Uint64("index", l.Index).
			Uint64("generation", rec.Generation).
			Str("version", rec.Active.ID).
			Msg("applied model state")
		return nil

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot captures the Active and Previous versions of every kind.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := &Snapshot{}
	for _, kind := range f.models.Kinds() {
		st, err := f.models.State(kind)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", kind, err)
		}
		snap.Models = append(snap.Models, NewRecord(kind, st))
	}
	return snap, nil
}

// Restore replaces local model state with a snapshot. Kinds this node does
// not register are skipped.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	known := make(map[string]bool)
	for _, k := range f.models.Kinds() {
		known[k] = true
	}
	for _, rec := range snap.Models {
		if !known[rec.Kind] {
			f.logger.Warn().Str("model", rec.Kind).Msg("skipping unregistered model in snapshot")
			continue
		}
		if err := f.models.Restore(rec.Kind, rec.state()); err != nil {
			return fmt.Errorf("failed to restore %s: %w", rec.Kind, err)
		}
	}
	return nil
}

// Snapshot is a point-in-time copy of replicated model state.
type Snapshot struct {
	Models []Record `json:"models"`
}

// Persist writes the snapshot to sink as JSON.
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		_ = sink.Cancel()
	}
	return err
}

// Release is a no-op; the snapshot holds no resources.
func (s *Snapshot) Release() {}
