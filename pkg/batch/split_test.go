package batch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func nanValue() float64 { return math.NaN() }

func TestSplit(t *testing.T) {
	items := make([]int, 25)
	for i := range items {
		items[i] = i
	}

	tests := []struct {
		name    string
		items   []int
		optimal int
		sizes   []int
	}{
		{name: "empty", items: nil, optimal: 10, sizes: nil},
		{name: "within factor", items: items[:15], optimal: 10, sizes: []int{15}},
		{name: "over factor", items: items, optimal: 10, sizes: []int{10, 10, 5}},
		{name: "non-positive optimal", items: items, optimal: 0, sizes: []int{25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Split(tt.items, tt.optimal)
			var sizes []int
			var flat []int
			for _, c := range chunks {
				sizes = append(sizes, len(c))
				flat = append(flat, c...)
			}
			assert.Equal(t, tt.sizes, sizes)
			if len(tt.items) > 0 {
				assert.Equal(t, tt.items, flat)
			}
		})
	}
}

func TestSplitChunksDoNotAlias(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}
	chunks := Split(items, 2)

	chunks[0] = append(chunks[0], 99)
	assert.Equal(t, 3, items[2])
}
