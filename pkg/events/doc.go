/*
Package events provides an in-memory broker for best-effort activity events.

The broker fans job, step, cache, model, alert and approval events out to
any number of subscribers. Publish never blocks the hot path: the broker
buffers up to 100 events and a subscriber whose own buffer is full simply
misses the event.

That lossiness is the contract. The broker feeds logging and debugging
consumers only; operator notifications and every state change with a
delivery guarantee go through their own components directly.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.JobID, ev.Message)
		}
	}()

	broker.Publish(&events.Event{Type: events.EventJobStarted, JobID: job.ID})
*/
package events
