package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventModelPromoted      EventType = "model.promoted"
	EventModelRejected      EventType = "model.rejected"
	EventModelRolledBack    EventType = "model.rolled_back"
	EventModelUpdated       EventType = "model.updated"
	EventTrainingFailed     EventType = "training.failed"
	EventAnomalyDetected    EventType = "anomaly.detected"
	EventPartitionDetected  EventType = "partition.detected"
	EventTimeoutRecommended EventType = "timeout.recommended"
	EventBatchAdjusted      EventType = "batch.adjusted"
)

// Event represents a control plane diagnostic event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// NewEvent builds an event with a fresh ID and the current time
func NewEvent(eventType EventType, message string, metadata map[string]string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Message:   message,
		Metadata:  metadata,
	}
}

// Publisher is implemented by anything events can be sent to
type Publisher interface {
	Publish(event *Event)
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// filter is the set of event types a subscriber wants. A nil filter
// matches everything.
type filter map[EventType]struct{}

func newFilter(types []EventType) filter {
	if len(types) == 0 {
		return nil
	}
	f := make(filter, len(types))
	for _, t := range types {
		f[t] = struct{}{}
	}
	return f
}

func (f filter) matches(t EventType) bool {
	if f == nil {
		return true
	}
	_, ok := f[t]
	return ok
}

const (
	queueSize      = 100
	subscriberSize = 50
)

// Broker fans diagnostic events out to subscribers. Publishing never
// blocks the caller; events that cannot be queued or delivered are counted
// instead.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]filter

	queue    chan *Event
	stopCh   chan struct{}
	stopOnce sync.Once

	dropped atomic.Uint64 // never queued
	skipped atomic.Uint64 // queued but a subscriber buffer was full
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]filter),
		queue:       make(chan *Event, queueSize),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. It is safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe registers a buffered subscription. With no types the
// subscriber receives every event; otherwise only the listed types.
func (b *Broker) Subscribe(types ...EventType) Subscriber {
	sub := make(Subscriber, subscriberSize)

	b.mu.Lock()
	b.subscribers[sub] = newFilter(types)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// subscribers are ignored.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for delivery, filling in a missing ID or
// timestamp. When the queue is full or the broker is stopped the event is
// dropped.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.stopCh:
		b.dropped.Add(1)
		return
	default:
	}

	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns the number of events Publish could not queue.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// Skipped returns the number of deliveries skipped because a subscriber
// was not keeping up.
func (b *Broker) Skipped() uint64 {
	return b.skipped.Load()
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.queue:
			b.deliver(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) deliver(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, f := range b.subscribers {
		if !f.matches(event.Type) {
			continue
		}
		select {
		case sub <- event:
		default:
			b.skipped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Discard is a Publisher that drops every event
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(*Event) {}
