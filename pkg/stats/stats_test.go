package stats

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRingEvictsOldestFirst tests FIFO eviction beyond capacity
func TestRingEvictsOldestFirst(t *testing.T) {
	r := NewRing[int](3)

	for i := 1; i <= 5; i++ {
		evicted := r.Push(i)
		assert.Equal(t, i > 3, evicted, "push %d", i)
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 4, 5}, r.Items())
	assert.Equal(t, []int{4, 5}, r.Last(2))
	assert.Equal(t, []int{3, 4, 5}, r.Last(10))
	assert.Nil(t, r.Last(0))

	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Items())
}

func TestRingNonPositiveCapacity(t *testing.T) {
	r := NewRing[string](0)
	r.Push("a")
	r.Push("b")

	assert.Equal(t, 1, r.Cap())
	assert.Equal(t, []string{"b"}, r.Items())
}

// TestSummarize tests mean and population standard deviation
func TestSummarize(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		mean   float64
		stddev float64
	}{
		{name: "empty", values: nil, mean: 0, stddev: 0},
		{name: "single", values: []float64{4}, mean: 4, stddev: 0},
		{name: "constant", values: []float64{500, 500, 500}, mean: 500, stddev: 0},
		{name: "spread", values: []float64{2, 4, 4, 4, 5, 5, 7, 9}, mean: 5, stddev: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize(tt.values)
			assert.Equal(t, len(tt.values), s.Count)
			assert.InDelta(t, tt.mean, s.Mean, 1e-9)
			assert.InDelta(t, tt.stddev, s.StdDev, 1e-9)
		})
	}
}

func TestSummaryZScore(t *testing.T) {
	s := Summary{Count: 10, Mean: 10, StdDev: 2}
	z, ok := s.ZScore(16)
	require.True(t, ok)
	assert.InDelta(t, 3.0, z, 1e-9)

	_, ok = Summary{Count: 10, Mean: 10}.ZScore(16)
	assert.False(t, ok)
}

// TestWindowBounded tests that the rolling window never exceeds capacity
func TestWindowBounded(t *testing.T) {
	w := NewWindow(100)
	for i := 0; i < 250; i++ {
		w.Add(float64(i))
	}

	assert.Equal(t, 100, w.Len())
	values := w.Values()
	assert.Equal(t, 150.0, values[0])
	assert.Equal(t, 249.0, values[len(values)-1])
	assert.InDelta(t, 199.5, w.Mean(), 1e-9)
	assert.Equal(t, []float64{247, 248, 249}, w.Last(3))

	w.Reset()
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, 0.0, w.Mean())
}

// TestWindowRunningSummary tests the incremental summary against a full
// recomputation
func TestWindowRunningSummary(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		samples  int
		gen      func(i int) float64
	}{
		{"partial window", 100, 40, func(i int) float64 { return float64(i%7) * 3 }},
		{"many evictions", 50, 5000, func(i int) float64 { return 1e6 + float64((i*7919)%1000) }},
		{"single slot", 1, 20, func(i int) float64 { return float64(i) }},
		{"level shift", 200, 1000, func(i int) float64 {
			if i < 600 {
				return 500 + float64(i%10)
			}
			return 50000 + float64(i%10)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWindow(tt.capacity)
			for i := 0; i < tt.samples; i++ {
				w.Add(tt.gen(i))

				got := w.Summary()
				want := Summarize(w.Values())
				require.Equal(t, want.Count, got.Count)
				require.InDelta(t, want.Mean, got.Mean, 1e-6*math.Max(1, math.Abs(want.Mean)))
				require.InDelta(t, want.StdDev, got.StdDev, 1e-4*math.Max(1, want.StdDev))
			}
		})
	}
}

func TestWindowIgnoresNonFinite(t *testing.T) {
	w := NewWindow(10)
	w.Add(1)
	w.Add(3)
	w.Add(math.NaN())
	w.Add(math.Inf(1))
	w.Add(math.Inf(-1))

	s := w.Summary()
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, 2.0, s.Mean)
	assert.InDelta(t, 1.0, s.StdDev, 1e-12)
}

func TestWindowConcurrentAdd(t *testing.T) {
	w := NewWindow(50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				w.Add(1)
				_ = w.Summary()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, w.Len())
	assert.Equal(t, 1.0, w.Mean())
}

// TestLinearRegression tests least squares fitting
func TestLinearRegression(t *testing.T) {
	t.Run("perfect fit", func(t *testing.T) {
		xs := []float64{1, 2, 3, 4, 5}
		ys := []float64{3, 5, 7, 9, 11}

		reg, err := LinearRegression(xs, ys, 5)
		require.NoError(t, err)
		assert.InDelta(t, 2.0, reg.Slope, 1e-9)
		assert.InDelta(t, 1.0, reg.Intercept, 1e-9)
		assert.InDelta(t, 1.0, reg.RSquared, 1e-9)
		assert.Equal(t, 5, reg.N)

		x, ok := reg.Invert(21)
		require.True(t, ok)
		assert.InDelta(t, 10.0, x, 1e-9)
	})

	t.Run("noisy fit", func(t *testing.T) {
		xs := []float64{1, 2, 3, 4, 5, 6}
		ys := []float64{2, 1, 4, 3, 6, 5}

		reg, err := LinearRegression(xs, ys, 5)
		require.NoError(t, err)
		assert.Greater(t, reg.Slope, 0.0)
		assert.Greater(t, reg.RSquared, 0.0)
		assert.Less(t, reg.RSquared, 1.0)
	})

	t.Run("too few samples", func(t *testing.T) {
		_, err := LinearRegression([]float64{1, 2, 3}, []float64{1, 2, 3}, 5)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("constant x", func(t *testing.T) {
		xs := []float64{8000, 8000, 8000, 8000, 8000}
		ys := []float64{1, 2, 3, 4, 5}
		_, err := LinearRegression(xs, ys, 5)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("negative slope cannot invert", func(t *testing.T) {
		reg, err := LinearRegression([]float64{1, 2, 3, 4, 5}, []float64{5, 4, 3, 2, 1}, 5)
		require.NoError(t, err)
		_, ok := reg.Invert(10)
		assert.False(t, ok)
	})
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1.0, Clamp(5, 0, 1))
	assert.Equal(t, 0.0, Clamp(-5, 0, 1))
	assert.Equal(t, 0.5, Clamp(0.5, 0, 1))
	assert.False(t, math.IsNaN(Clamp(0.5, 0, 1)))
}
