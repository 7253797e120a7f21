/*
Package events provides an in-memory broker for live store events.

The reconciler publishes every audit event it appends to the store database
and the HTTP API streams them to watchers on /events. The broker is a
convenience feed for humans and dashboards; it never feeds back into
reconciliation, and the database remains the source of truth.

	Reconciler ──Publish──▶ event queue (buffer 100)
	                              │
	                        broadcast loop
	                              │
	              ┌───────────────┼───────────────┐
	              ▼               ▼               ▼
	         subscriber      subscriber      subscriber
	         (buffer 50)     (buffer 50)     (buffer 50)

Publish never blocks. When the queue or a subscriber buffer is full the
event is dropped for that path and counted in Dropped, so a stalled watcher
cannot slow a reconciliation pass.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Println(ev.StoreID, ev.Action, ev.Status)
	}
*/
package events
