package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cuemby/cadence/pkg/anomaly"
	"github.com/cuemby/cadence/pkg/balancer"
	"github.com/cuemby/cadence/pkg/config"
	"github.com/cuemby/cadence/pkg/consensus"
	"github.com/cuemby/cadence/pkg/engine"
	"github.com/cuemby/cadence/pkg/ordering"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive a synthetic workload through every optimizer",
	Long: `Simulate runs the engine against a generated workload on a virtual
clock and prints the resulting statistics. Replication and the metrics
server are disabled; storage is used only when enabled in the config.

Examples:
  # 500 steps with the default workload
  cadence simulate

  # Reproducible run with JSON output
  cadence simulate --steps 2000 --seed 7 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		opts := simulation{}
		opts.steps, _ = cmd.Flags().GetInt("steps")
		opts.targets, _ = cmd.Flags().GetInt("targets")
		opts.nodes, _ = cmd.Flags().GetInt("nodes")
		opts.txPerStep, _ = cmd.Flags().GetInt("tx-per-step")
		seed, _ := cmd.Flags().GetUint64("seed")
		opts.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		asJSON, _ := cmd.Flags().GetBool("json")

		stats, err := opts.run(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}
		printStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

func init() {
	simulateCmd.Flags().Int("steps", 500, "Number of simulated intervals")
	simulateCmd.Flags().Int("targets", 4, "Number of shards")
	simulateCmd.Flags().Int("nodes", 3, "Number of consensus nodes")
	simulateCmd.Flags().Int("tx-per-step", 50, "Transactions ordered per interval")
	simulateCmd.Flags().Uint64("seed", 1, "Random seed")
	simulateCmd.Flags().Bool("json", false, "Print statistics as JSON")
}

type simulation struct {
	steps     int
	targets   int
	nodes     int
	txPerStep int
	rng       *rand.Rand

	mu  sync.Mutex
	now time.Time
}

func (s *simulation) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *simulation) advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

func (s *simulation) run(ctx context.Context, cfg config.Config) (engine.Stats, error) {
	cfg.Raft.Enabled = false
	cfg.Metrics.Enabled = false
	s.now = time.Now()

	eng, err := engine.New(cfg, engine.WithClock(s.clock))
	if err != nil {
		return engine.Stats{}, fmt.Errorf("failed to create engine: %w", err)
	}
	defer func() { _ = eng.Stop() }()

	targets := make([]balancer.Target, s.targets)
	for i := range targets {
		targets[i] = balancer.Target{
			ID:          fmt.Sprintf("shard-%d", i),
			Load:        0.2 + 0.6*s.rng.Float64(),
			AvgLatency:  20 + 200*s.rng.Float64(),
			Capacity:    s.rng.Float64(),
			FailureRate: 0.05 * s.rng.Float64(),
		}
		eng.UpdateTarget(targets[i])
	}
	nodes := make([]string, s.nodes)
	for i := range nodes {
		nodes[i] = fmt.Sprintf("node-%d", i)
	}
	senders := []string{"alice", "bob", "carol", "dave", "erin", "frank"}

	batchSize := cfg.Batch.DefaultBatch
	timeout := cfg.Consensus.MaxTimeout

	for step := 0; step < s.steps; step++ {
		if err := ctx.Err(); err != nil {
			return eng.Stats(), err
		}
		s.advance(100 * time.Millisecond)
		now := s.clock()

		// Throughput peaks around 9000 and degrades with latency beyond it.
		fill := float64(batchSize) / 9000
		throughput := 2_000_000 * fill * math.Exp(-math.Pow(fill-1, 2)) * (0.95 + 0.1*s.rng.Float64())
		latency := 40 + 30*fill + 10*s.rng.NormFloat64()
		if latency < 1 {
			latency = 1
		}
		batchSize = eng.RecordPerformance(throughput, latency).NewBatch

		pending := make([]ordering.Transaction, s.txPerStep)
		for i := range pending {
			sender := senders[s.rng.IntN(len(senders))]
			pending[i] = ordering.Transaction{
				ID:        uuid.New().String(),
				Sender:    sender,
				Size:      100 + s.rng.IntN(4000),
				FeePrice:  1 + s.rng.Float64()*1000,
				GasLimit:  21000 + uint64(s.rng.IntN(500000)),
				Type:      ordering.TxType(s.rng.IntN(4)),
				Timestamp: now.Add(-time.Duration(s.rng.IntN(30_000)) * time.Millisecond),
			}
			eng.CheckTransaction(anomaly.Transaction{
				ID:        pending[i].ID,
				Sender:    sender,
				Size:      pending[i].Size,
				Value:     s.rng.ExpFloat64() * 100,
				Timestamp: now,
			})
		}
		for _, tx := range eng.Order(pending) {
			a := eng.Assign(balancer.Request{ID: tx.ID})
			t := targets[targetIndex(targets, a.TargetID)]
			success := s.rng.Float64() > t.FailureRate+0.3*math.Max(0, t.Load-0.7)
			eng.RecordFeedback(a.TargetID, a.Features, t.AvgLatency, t.Load, success)
		}

		for i := range targets {
			targets[i].Load = clamp01(targets[i].Load + 0.05*s.rng.NormFloat64())
			eng.UpdateTarget(targets[i])
		}
		for i, id := range nodes {
			// The last node drops out for the second half of the run.
			if i == len(nodes)-1 && step > s.steps/2 {
				continue
			}
			eng.RecordHeartbeat(id, consensus.Heartbeat{
				Latency:    15 + 5*float64(i) + 3*s.rng.NormFloat64(),
				Throughput: throughput,
				Available:  true,
				Timestamp:  now,
			})
		}

		if step%10 == 9 {
			if _, _, err := eng.Train(ctx); err != nil {
				return eng.Stats(), err
			}
			timeout = eng.Advisor().RecommendFromHistory(timeout).Timeout
			eng.DetectPartition()
		}
	}

	eng.PredictLeader(nodes)
	return eng.Stats(), nil
}

func targetIndex(targets []balancer.Target, id string) int {
	for i, t := range targets {
		if t.ID == id {
			return i
		}
	}
	return 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func printStats(w io.Writer, s engine.Stats) {
	fmt.Fprintln(w, "Batch")
	fmt.Fprintf(w, "  current: %d  best: %d (%.0f tx/s)  adjustments: %d  improvements: %d\n",
		s.Batch.CurrentBatch, s.Batch.BestBatch, s.Batch.BestThroughput, s.Batch.Optimizations, s.Batch.Improvements)

	fmt.Fprintln(w, "Balancer")
	fmt.Fprintf(w, "  assignments: %d  fallbacks: %d  accuracy: %.3f  learning rate: %.4f  hot: %v\n",
		s.Balancer.TotalAssignments, s.Balancer.Fallbacks, s.Balancer.Accuracy, s.Balancer.LearningRate, s.Balancer.HotTargets)

	fmt.Fprintln(w, "Ordering")
	fmt.Fprintf(w, "  ordered: %d  adaptations: %d  cache: %d (hits %d, misses %d)\n",
		s.Ordering.Ordered, s.Ordering.Adaptations, s.Ordering.CachedFeatures, s.Ordering.CacheHits, s.Ordering.CacheMisses)

	fmt.Fprintln(w, "Anomaly")
	fmt.Fprintf(w, "  checked: %d  anomalies: %d (transaction %d, security %d, performance %d)\n",
		s.Anomaly.Checked, s.Anomaly.Total, s.Anomaly.Transaction, s.Anomaly.Security, s.Anomaly.Performance)

	fmt.Fprintln(w, "Models")
	for _, m := range s.Models {
		fmt.Fprintf(w, "  %-10s active: %s  accuracy: %.3f  promotions: %d  rejections: %d  updates: %d\n",
			m.Kind, shortID(m.ActiveID), m.ActiveAccuracy, m.Promotions, m.Rejections, m.Updates)
		if weights, ok := s.Weights[m.Kind]; ok {
			fmt.Fprintf(w, "  %-10s weights: %s\n", "", weights)
		}
	}

	fmt.Fprintln(w, "Consensus")
	fmt.Fprintf(w, "  tracked nodes: %d  timeout: %s  optimizations: %d  partitions: %d\n",
		s.Consensus.TrackedNodes, s.Consensus.CurrentTimeout, s.Consensus.OptimizationsApplied, s.Consensus.Partitions)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
