package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/cuemby/cadence/pkg/stats"
)

// SumTolerance is how far a normalized weight vector may drift from 1.
const SumTolerance = 1e-6

var (
	// ErrDimensionMismatch is returned when a feature vector does not match
	// the weight vector length.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
	// ErrInvalidWeights is returned for empty, mismatched or non-finite
	// weight vectors.
	ErrInvalidWeights = errors.New("invalid weights")
)

// Weights is an immutable, named, normalized weight vector. The zero value
// is an empty vector.
type Weights struct {
	names  []string
	values []float64
}

// NewWeights builds a normalized vector. Negative entries are clamped to
// zero; an all-zero vector becomes uniform.
func NewWeights(names []string, values []float64) (Weights, error) {
	if len(names) == 0 || len(names) != len(values) {
		return Weights{}, fmt.Errorf("%w: %d names for %d values", ErrInvalidWeights, len(names), len(values))
	}
	seen := make(map[string]bool, len(names))
	for i, n := range names {
		if seen[n] {
			return Weights{}, fmt.Errorf("%w: duplicate feature %q", ErrInvalidWeights, n)
		}
		seen[n] = true
		if math.IsNaN(values[i]) || math.IsInf(values[i], 0) {
			return Weights{}, fmt.Errorf("%w: %s is %v", ErrInvalidWeights, n, values[i])
		}
	}

	w := Weights{
		names:  append([]string(nil), names...),
		values: append([]float64(nil), values...),
	}
	w.normalize()
	return w, nil
}

// MustWeights is NewWeights for static defaults; it panics on error.
func MustWeights(names []string, values []float64) Weights {
	w, err := NewWeights(names, values)
	if err != nil {
		panic(err)
	}
	return w
}

func (w *Weights) normalize() {
	sum := 0.0
	for i, v := range w.values {
		if v < 0 {
			w.values[i] = 0
			v = 0
		}
		sum += v
	}
	if sum < stats.Epsilon {
		for i := range w.values {
			w.values[i] = 1 / float64(len(w.values))
		}
		return
	}
	if math.Abs(sum-1) <= SumTolerance {
		return
	}
	for i := range w.values {
		w.values[i] /= sum
	}
}

// Len returns the number of features.
func (w Weights) Len() int { return len(w.values) }

// Names returns a copy of the feature names.
func (w Weights) Names() []string { return append([]string(nil), w.names...) }

// Values returns a copy of the weights.
func (w Weights) Values() []float64 { return append([]float64(nil), w.values...) }

// At returns the i-th weight.
func (w Weights) At(i int) float64 { return w.values[i] }

// Get returns the weight named name, or 0.
func (w Weights) Get(name string) float64 {
	for i, n := range w.names {
		if n == name {
			return w.values[i]
		}
	}
	return 0
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	sum := 0.0
	for _, v := range w.values {
		sum += v
	}
	return sum
}

// Dot returns the weighted sum of features.
func (w Weights) Dot(features []float64) (float64, error) {
	if len(features) != len(w.values) {
		return 0, fmt.Errorf("%w: got %d features, want %d", ErrDimensionMismatch, len(features), len(w.values))
	}
	score := 0.0
	for i, f := range features {
		score += w.values[i] * f
	}
	return score, nil
}

// Score is Dot for callers that already validated the dimension; a
// mismatch scores 0.
func (w Weights) Score(features []float64) float64 {
	s, _ := w.Dot(features)
	return s
}

// WithValues returns a normalized vector with the same names and new
// values.
func (w Weights) WithValues(values []float64) (Weights, error) {
	return NewWeights(w.names, values)
}

// Equal reports whether both vectors have identical names and weights.
func (w Weights) Equal(o Weights) bool {
	if len(w.values) != len(o.values) {
		return false
	}
	for i := range w.values {
		if w.names[i] != o.names[i] || w.values[i] != o.values[i] {
			return false
		}
	}
	return true
}

// String renders the vector for logs.
func (w Weights) String() string {
	s := "{"
	for i, n := range w.names {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s:%.4f", n, w.values[i])
	}
	return s + "}"
}

type weightsJSON struct {
	Names  []string  `json:"names"`
	Values []float64 `json:"values"`
}

// MarshalJSON implements json.Marshaler.
func (w Weights) MarshalJSON() ([]byte, error) {
	return json.Marshal(weightsJSON{Names: w.names, Values: w.values})
}

// UnmarshalJSON implements json.Unmarshaler. Decoded vectors are validated
// and renormalized.
func (w *Weights) UnmarshalJSON(data []byte) error {
	var raw weightsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Names) == 0 && len(raw.Values) == 0 {
		*w = Weights{}
		return nil
	}
	decoded, err := NewWeights(raw.Names, raw.Values)
	if err != nil {
		return err
	}
	*w = decoded
	return nil
}
