package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cuemby/cadence/pkg/lifecycle"
	"github.com/cuemby/cadence/pkg/metrics"
	"github.com/cuemby/cadence/pkg/storage"
)

const (
	// assignmentExperiences names the persisted balancer replay buffer.
	assignmentExperiences = "assignment"
	// versionHistory is the number of versions kept per model kind.
	versionHistory = 100
)

// warmStart restores persisted models and experiences. Records that no
// longer match the registered model shape are skipped and the defaults
// stay Active.
func (e *Engine) warmStart() {
	for _, kind := range e.models.Kinds() {
		rec, err := e.store.GetModel(kind)
		if err != nil {
			if !storage.IsNotFound(err) {
				e.logger.Warn().Err(err).Str("kind", kind).Msg("failed to load persisted model")
			}
			continue
		}
		st := lifecycle.State{Active: rec.Active, Previous: rec.Previous, Generation: rec.Generation}
		if err := e.models.Restore(kind, st); err != nil {
			e.logger.Warn().Err(err).Str("kind", kind).Msg("ignoring persisted model")
			continue
		}
		e.saved[kind] = st
		e.published[kind] = rec.Generation
		e.logger.Info().
			Str("kind", kind).
			Str("version", rec.Active.ID).
			Uint64("generation", rec.Generation).
			Msg("restored persisted model")
	}

	exps, err := e.store.LoadExperiences(assignmentExperiences)
	switch {
	case err == nil:
		e.balancer.Experiences().Restore(exps)
		e.logger.Info().Int("experiences", e.balancer.Experiences().Len()).Msg("restored experience buffer")
	case !storage.IsNotFound(err):
		e.logger.Warn().Err(err).Msg("failed to load persisted experiences")
	}
}

// writable reports whether this node may change models locally. With
// replication on only the leader does; followers follow the log.
func (e *Engine) writable() bool {
	node := e.node.Load()
	return node == nil || node.IsLeader()
}

// onModelChange queues a published transition for publishLoop. It runs on
// the caller of the lifecycle operation and never blocks on storage or
// raft. Only the newest generation per kind is kept.
func (e *Engine) onModelChange(kind string, st lifecycle.State) {
	e.publishMu.Lock()
	if cur, ok := e.pending[kind]; !ok || st.Generation > cur.Generation {
		e.pending[kind] = st
	}
	e.publishMu.Unlock()

	select {
	case e.publishCh <- struct{}{}:
	default:
	}
}

// publishLoop persists and replicates queued transitions until ctx is
// done. Stop flushes whatever is left.
func (e *Engine) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.publishCh:
			e.publishPending()
		}
	}
}

// publishPending drains the queue. Callers must not run it concurrently.
func (e *Engine) publishPending() {
	e.publishMu.Lock()
	batch := e.pending
	e.pending = make(map[string]lifecycle.State, len(batch))
	e.publishMu.Unlock()

	kinds := make([]string, 0, len(batch))
	for kind := range batch {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		e.publish(kind, batch[kind])
	}
}

func (e *Engine) publish(kind string, st lifecycle.State) {
	if last, ok := e.published[kind]; ok && st.Generation <= last {
		return
	}
	e.published[kind] = st.Generation

	if e.store != nil {
		if err := e.saveModel(kind, st); err != nil {
			e.logger.Error().Err(err).Str("kind", kind).Msg("failed to persist model")
			metrics.UpdateComponent("storage", false, err.Error())
		} else {
			metrics.UpdateComponent("storage", true, "")
		}
	}

	if node := e.node.Load(); node != nil {
		if err := node.Replicate(kind, st); err != nil {
			e.logger.Warn().Err(err).Str("kind", kind).Msg("failed to replicate model")
		}
	}
}

func (e *Engine) saveModel(kind string, st lifecycle.State) error {
	rec := storage.ModelRecord{Kind: kind, Active: st.Active, Previous: st.Previous, Generation: st.Generation}
	if err := e.store.SaveModel(rec); err != nil {
		return err
	}
	last, seen := e.saved[kind]
	e.saved[kind] = st
	if seen && !newVersion(last, st) {
		return nil
	}
	if err := e.store.AppendVersion(st.Active); err != nil {
		return err
	}
	_, err := e.store.PruneVersions(kind, versionHistory)
	return err
}

// newVersion reports whether st activates a version the history does not
// hold yet. A rollback re-activates the stored Previous.
func newVersion(last, st lifecycle.State) bool {
	if st.Active.ID == last.Active.ID {
		return false
	}
	return last.Previous == nil || st.Active.ID != last.Previous.ID
}

func (e *Engine) persistExperiences() error {
	buf := e.balancer.Experiences()
	exps := buf.All()
	if limit := e.cfg.Storage.MaxExperiences; limit > 0 && len(exps) > limit {
		exps = exps[len(exps)-limit:]
	}
	if err := e.store.SaveExperiences(assignmentExperiences, exps); err != nil {
		return fmt.Errorf("failed to persist experiences: %w", err)
	}
	return nil
}

// History returns the persisted versions of kind, oldest first.
func (e *Engine) History(kind string) ([]*lifecycle.ModelVersion, error) {
	if e.store == nil {
		return nil, errors.New("storage is disabled")
	}
	return e.store.ListVersions(kind)
}
