package balancer

import (
	"sort"

	"github.com/cuemby/cadence/pkg/stats"
)

// Target is a shard or validator that work can be assigned to.
type Target struct {
	ID string
	// Load is the current utilization in [0,1].
	Load float64
	// AvgLatency is in milliseconds.
	AvgLatency float64
	// Capacity is the relative headroom in [0,1].
	Capacity float64
	// FailureRate is the historical failure ratio in [0,1].
	FailureRate  float64
	Capabilities []string
}

func (t Target) hasCapabilities(required []string) bool {
	for _, r := range required {
		found := false
		for _, c := range t.Capabilities {
			if c == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// registry is an immutable view of every target, sorted by ID.
type registry struct {
	targets []Target
	index   map[string]int
}

func newRegistry(targets []Target) *registry {
	sorted := append([]Target(nil), targets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	r := &registry{targets: sorted, index: make(map[string]int, len(sorted))}
	for i, t := range sorted {
		r.index[t.ID] = i
	}
	return r
}

func (r *registry) with(t Target) *registry {
	next := make([]Target, 0, len(r.targets)+1)
	replaced := false
	for _, cur := range r.targets {
		if cur.ID == t.ID {
			next = append(next, t)
			replaced = true
			continue
		}
		next = append(next, cur)
	}
	if !replaced {
		next = append(next, t)
	}
	return newRegistry(next)
}

func (r *registry) without(id string) *registry {
	next := make([]Target, 0, len(r.targets))
	for _, cur := range r.targets {
		if cur.ID != id {
			next = append(next, cur)
		}
	}
	return newRegistry(next)
}

// sanitize clamps target telemetry into the ranges the scorer expects.
func sanitize(t Target) Target {
	t.Load = stats.Clamp(finite(t.Load), 0, 1)
	t.Capacity = stats.Clamp(finite(t.Capacity), 0, 1)
	t.FailureRate = stats.Clamp(finite(t.FailureRate), 0, 1)
	if t.AvgLatency < 0 || t.AvgLatency != t.AvgLatency {
		t.AvgLatency = 0
	}
	t.Capabilities = append([]string(nil), t.Capabilities...)
	return t
}

func finite(v float64) float64 {
	if v != v {
		return 0
	}
	return v
}
