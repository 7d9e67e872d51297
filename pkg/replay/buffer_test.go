package replay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exp(i int) Experience {
	return Experience{
		PredictedAction: fmt.Sprintf("shard-%d", i),
		Features:        []float64{float64(i)},
		Outcome:         Outcome{Latency: float64(i), Success: true},
		Timestamp:       time.Unix(int64(i), 0),
	}
}

// TestBufferEvictsOldestFirst tests sequential inserts beyond capacity
func TestBufferEvictsOldestFirst(t *testing.T) {
	b := NewBuffer(5)
	for i := 0; i < 8; i++ {
		b.Add(exp(i))
		assert.LessOrEqual(t, b.Len(), 5)
	}

	all := b.All()
	require.Len(t, all, 5)
	for i, e := range all {
		assert.Equal(t, fmt.Sprintf("shard-%d", i+3), e.PredictedAction)
	}
	assert.Equal(t, uint64(8), b.Added())
	assert.Equal(t, uint64(3), b.Evicted())
}

func TestBufferRecentDoesNotRemove(t *testing.T) {
	b := NewBuffer(10)
	for i := 0; i < 6; i++ {
		b.Add(exp(i))
	}

	recent := b.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "shard-3", recent[0].PredictedAction)
	assert.Equal(t, "shard-5", recent[2].PredictedAction)
	assert.Equal(t, 6, b.Len())
	assert.Len(t, b.Recent(100), 6)
}

func TestBufferDefaultsTimestampAndCapacity(t *testing.T) {
	b := NewBuffer(0)
	assert.Equal(t, DefaultCapacity, b.Cap())

	b.Add(Experience{PredictedAction: "x"})
	assert.False(t, b.All()[0].Timestamp.IsZero())
}

func TestBufferRestoreKeepsNewest(t *testing.T) {
	b := NewBuffer(3)
	b.Add(exp(100))

	b.Restore([]Experience{exp(1), exp(2), exp(3), exp(4)})
	all := b.All()
	require.Len(t, all, 3)
	assert.Equal(t, "shard-2", all[0].PredictedAction)
	assert.Equal(t, "shard-4", all[2].PredictedAction)
}

// TestBufferConcurrentProducers tests many producers with one reader
func TestBufferConcurrentProducers(t *testing.T) {
	b := NewBuffer(1000)
	var wg sync.WaitGroup
	for p := 0; p < 16; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b.Add(exp(p*1000 + i))
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			assert.LessOrEqual(t, len(b.Recent(100)), 100)
		}
	}()

	wg.Wait()
	<-done
	assert.Equal(t, 1000, b.Len())
	assert.Equal(t, uint64(8000), b.Added())
	assert.Equal(t, uint64(7000), b.Evicted())
}
