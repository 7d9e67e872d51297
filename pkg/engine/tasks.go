package engine

import (
	"context"
	"time"

	"github.com/cuemby/cadence/pkg/events"
	"github.com/rs/zerolog"
)

// logEvents drains sub into the engine log until ctx is done.
func (e *Engine) logEvents(ctx context.Context, sub events.Subscriber) error {
	defer e.broker.Unsubscribe(sub)
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			md := zerolog.Dict()
			for k, v := range ev.Metadata {
				md.Str(k, v)
			}
			e.logger.Debug().
				Str("event_id", ev.ID).
				Str("type", string(ev.Type)).
				Dict("metadata", md).
				Msg(ev.Message)
		case <-ctx.Done():
			return nil
		}
	}
}

// tuneLoop re-derives the election timeout from heartbeat history and
// checks for partitions every TuneInterval. With replication running the
// timeout is reloaded into raft.
func (e *Engine) tuneLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Consensus.TuneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.tune()
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *Engine) tune() {
	if node := e.node.Load(); node != nil {
		rec, err := e.advisor.ApplyTimeout(node.Raft())
		if err != nil {
			e.logger.Warn().Err(err).Dur("timeout", rec.Timeout).Msg("failed to apply election timeout")
		}
	} else {
		current := e.advisor.Statistics().CurrentTimeout
		if current <= 0 {
			current = e.cfg.Consensus.MaxTimeout
		}
		e.advisor.RecommendFromHistory(current)
	}

	if report := e.DetectPartition(); report.Detected {
		e.logger.Debug().Strs("unreachable", report.Unreachable).Msg("partition check")
	}
}

// snapshotLoop persists the experience buffer every SnapshotInterval.
func (e *Engine) snapshotLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Storage.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.persistExperiences(); err != nil {
				e.logger.Error().Err(err).Msg("failed to snapshot experiences")
			}
		case <-ctx.Done():
			return nil
		}
	}
}
