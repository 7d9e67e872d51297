package lifecycle

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNames = []string{"load", "latency", "capacity", "failure"}

// TestWeightsSumToOne tests normalization for arbitrary inputs
func TestWeightsSumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		values := make([]float64, len(testNames))
		for j := range values {
			values[j] = rng.NormFloat64() * 10
		}
		w, err := NewWeights(testNames, values)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, w.Sum(), SumTolerance)
		for _, v := range w.Values() {
			assert.GreaterOrEqual(t, v, 0.0)
		}
	}
}

func TestNewWeights(t *testing.T) {
	t.Run("all zero becomes uniform", func(t *testing.T) {
		w, err := NewWeights(testNames, []float64{0, 0, -1, 0})
		require.NoError(t, err)
		assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, w.Values())
	})

	t.Run("scaled", func(t *testing.T) {
		w, err := NewWeights([]string{"a", "b"}, []float64{1, 3})
		require.NoError(t, err)
		assert.InDelta(t, 0.25, w.Get("a"), 1e-12)
		assert.InDelta(t, 0.75, w.Get("b"), 1e-12)
		assert.Equal(t, 0.0, w.Get("missing"))
	})

	errCases := []struct {
		name   string
		names  []string
		values []float64
	}{
		{"empty", nil, nil},
		{"length mismatch", []string{"a"}, []float64{1, 2}},
		{"duplicate", []string{"a", "a"}, []float64{1, 2}},
		{"nan", []string{"a", "b"}, []float64{math.NaN(), 1}},
		{"inf", []string{"a", "b"}, []float64{math.Inf(1), 1}},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWeights(tt.names, tt.values)
			assert.ErrorIs(t, err, ErrInvalidWeights)
		})
	}
}

func TestWeightsImmutable(t *testing.T) {
	values := []float64{1, 1, 1, 1}
	w := MustWeights(testNames, values)

	values[0] = 100
	got := w.Values()
	got[1] = 100
	assert.Equal(t, 0.25, w.At(0))
	assert.Equal(t, 0.25, w.At(1))
}

func TestWeightsDot(t *testing.T) {
	w := MustWeights(testNames, []float64{4, 3, 2, 1})

	score, err := w.Dot([]float64{1, 1, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, score, 1e-12)

	_, err = w.Dot([]float64{1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0.0, w.Score([]float64{1}))
}

func TestWeightsJSON(t *testing.T) {
	w := MustWeights(testNames, []float64{4, 3, 2, 1})

	data, err := json.Marshal(w)
	require.NoError(t, err)

	var decoded Weights
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, w.Equal(decoded))
	assert.Equal(t, testNames, decoded.Names())

	assert.Error(t, json.Unmarshal([]byte(`{"names":["a"],"values":[1,2]}`), &decoded))
}

func TestNormalizedWeightsAreStable(t *testing.T) {
	w := MustWeights(testNames, []float64{0.4, 0.3, 0.2, 0.1})
	again, err := w.WithValues(w.Values())
	require.NoError(t, err)
	assert.True(t, w.Equal(again))

	data, err := json.Marshal(w)
	require.NoError(t, err)
	var decoded Weights
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, w.Equal(decoded))
}
