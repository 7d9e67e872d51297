package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBrokerDelivers tests fan-out to every subscriber
func TestBrokerDelivers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(NewEvent(EventModelPromoted, "promoted", map[string]string{"kind": "assignment"}))

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventModelPromoted, ev.Type)
			assert.Equal(t, "assignment", ev.Metadata["kind"])
			assert.NotEmpty(t, ev.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishFillsDefaults(t *testing.T) {
	b := NewBroker()
	ev := &Event{Type: EventTrainingFailed}
	b.Publish(ev)

	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

// TestPublishNeverBlocks tests that a full queue drops instead of blocking
func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker() // not started, nobody drains the queue

	done := make(chan struct{})
	go func() {
		for i := 0; i < 150; i++ {
			b.Publish(NewEvent(EventAnomalyDetected, "flood", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}
	assert.Equal(t, uint64(50), b.Dropped())
}

func TestPublishAfterStop(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()
	b.Stop()

	b.Publish(NewEvent(EventModelRejected, "late", nil))
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestUnsubscribe(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	assert.Equal(t, 0, b.SubscriberCount())
	_, open := <-sub
	require.False(t, open)
}

func TestSubscribeFiltersTypes(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	anomalies := b.Subscribe(EventAnomalyDetected, EventPartitionDetected)
	all := b.Subscribe()

	b.Publish(NewEvent(EventBatchAdjusted, "batch", nil))
	b.Publish(NewEvent(EventPartitionDetected, "partition", nil))

	select {
	case ev := <-anomalies:
		assert.Equal(t, EventPartitionDetected, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("filtered event not delivered")
	}
	for _, want := range []EventType{EventBatchAdjusted, EventPartitionDetected} {
		select {
		case ev := <-all:
			assert.Equal(t, want, ev.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}
	assert.Empty(t, anomalies)
}

// TestSlowSubscriberSkipped tests that a full subscriber buffer is counted
func TestSlowSubscriberSkipped(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	_ = b.Subscribe()
	for i := 0; i < subscriberSize+5; i++ {
		b.Publish(NewEvent(EventModelUpdated, "update", nil))
		time.Sleep(time.Millisecond)
	}

	assert.Eventually(t, func() bool {
		return b.Skipped()+b.Dropped() == 5
	}, 2*time.Second, 10*time.Millisecond)
}
