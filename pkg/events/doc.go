/*
Package events provides an in-process pub/sub broker for control plane
diagnostics.

Optimizers publish events when something noteworthy happens: a model is
promoted, rejected or rolled back, a training cycle fails, an anomaly or a
network partition is detected. Observability collaborators subscribe and
forward them to logs, alerts or dashboards.

Publish is called from periodic tasks and occasionally from the hot path,
so it never blocks. Events are queued on a buffered channel (100 entries)
and fanned out by a single goroutine to subscriber channels (50 entries
each). A full queue drops the event and a full subscriber misses it;
Broker.Dropped and Broker.Skipped count the two cases.

Subscribe takes an optional list of event types. A subscriber that only
cares about anomalies does not fill its buffer with batch adjustments:

	alerts := broker.Subscribe(events.EventAnomalyDetected, events.EventPartitionDetected)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.Message)
		}
	}()

	broker.Publish(events.NewEvent(events.EventModelPromoted, "assignment model promoted", nil))
*/
package events
