package stats

import (
	"math"
	"sync"
)

// Window is a bounded rolling window of float64 samples, safe for
// concurrent use. The mean and variance are maintained incrementally, so
// Mean and Summary do not scan the samples.
type Window struct {
	mu   sync.RWMutex
	ring *Ring[float64]

	// Welford state over the samples in ring.
	mean float64
	m2   float64
	// evictions since the running state was last rebuilt from ring.
	evictions int
}

// NewWindow creates a window of the given capacity.
func NewWindow(capacity int) *Window {
	return &Window{ring: NewRing[float64](capacity)}
}

// Add records a sample, evicting the oldest one when full. Non-finite
// samples are ignored.
func (w *Window) Add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ring.Len() == w.ring.Cap() {
		w.remove(w.ring.At(0))
		w.evictions++
	}
	w.ring.Push(v)
	n := float64(w.ring.Len())
	delta := v - w.mean
	w.mean += delta / n
	w.m2 += delta * (v - w.mean)

	// Removal accumulates rounding error; rebuild once per full turn.
	if w.evictions >= w.ring.Cap() {
		w.rebuild()
	}
}

// remove takes old out of the running state. The ring still holds it.
func (w *Window) remove(old float64) {
	n := float64(w.ring.Len())
	if n <= 1 {
		w.mean, w.m2 = 0, 0
		return
	}
	mean := (n*w.mean - old) / (n - 1)
	w.m2 -= (old - w.mean) * (old - mean)
	w.mean = mean
	if w.m2 < 0 {
		w.m2 = 0
	}
}

func (w *Window) rebuild() {
	s := Summarize(w.ring.Items())
	w.mean = s.Mean
	w.m2 = s.StdDev * s.StdDev * float64(s.Count)
	w.evictions = 0
}

// Len returns the number of samples held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ring.Len()
}

// Cap returns the window capacity.
func (w *Window) Cap() int {
	return w.ring.Cap()
}

// Values returns a copy of the samples, oldest first.
func (w *Window) Values() []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ring.Items()
}

// Last returns the newest n samples, oldest first.
func (w *Window) Last(n int) []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ring.Last(n)
}

// Mean returns the arithmetic mean, or 0 for an empty window.
func (w *Window) Mean() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.ring.Len() == 0 {
		return 0
	}
	return w.mean
}

// Summary returns count, mean and population standard deviation of the
// window.
func (w *Window) Summary() Summary {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := w.ring.Len()
	if n == 0 {
		return Summary{}
	}
	return Summary{Count: n, Mean: w.mean, StdDev: math.Sqrt(w.m2 / float64(n))}
}

// Reset drops every sample.
func (w *Window) Reset() {
	w.mu.Lock()
	w.ring.Reset()
	w.mean, w.m2, w.evictions = 0, 0, 0
	w.mu.Unlock()
}

// Summary describes a sample set.
type Summary struct {
	Count  int
	Mean   float64
	StdDev float64
}

// ZScore returns (v - mean) / stddev. The second result is false when the
// standard deviation is too small to divide by.
func (s Summary) ZScore(v float64) (float64, bool) {
	if s.StdDev < Epsilon {
		return 0, false
	}
	return (v - s.Mean) / s.StdDev, true
}

// Epsilon is the tolerance used for degenerate variances and weight sums.
const Epsilon = 1e-9

// Number is any numeric type the helpers accept.
type Number interface {
	~int | ~int64 | ~float64
}

// Mean returns the arithmetic mean of values, or 0 when empty.
func Mean[T Number](values []T) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += float64(v)
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation of values.
func StdDev[T Number](values []T) float64 {
	return Summarize(values).StdDev
}

// Summarize computes count, mean and population standard deviation.
func Summarize[T Number](values []T) Summary {
	n := len(values)
	if n == 0 {
		return Summary{}
	}
	mean := Mean(values)
	ss := 0.0
	for _, v := range values {
		d := float64(v) - mean
		ss += d * d
	}
	return Summary{Count: n, Mean: mean, StdDev: math.Sqrt(ss / float64(n))}
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
