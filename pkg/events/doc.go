/*
Package events provides the in-memory observability stream of reconnect.

Components publish events through the Publisher interface; the Broker fans
them out to subscribers over buffered channels. Publishing never waits on a
slow subscriber: a subscriber whose buffer is full misses the event.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for e := range sub {
			if e.Type == events.EventProviderUnreachable {
				// pause the queue and start probing the provider
			}
		}
	}()

# Event types

  - provider.unreachable: the fetcher hit its consecutive failure threshold.
    Published once per failed fetch.
  - provider.recovered: the provider health monitor saw enough successes.
  - graph.error: a job failed in a way that triggered a requeue.
  - job.completed, job.failed, job.requeued: job lifecycle.
  - queue.paused, queue.resumed: changes of the global backpressure valve.
  - capacity.low: a batch was rejected because capacity ran out.

Discard and Recorder are Publishers for code paths and tests that do not
need a running broker.
*/
package events
