package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/reconnect/pkg/events"
	"github.com/cuemby/reconnect/pkg/health"
	"github.com/cuemby/reconnect/pkg/queue"
)

type fakeQueue struct {
	mu      sync.Mutex
	owners  map[string]bool
	pauses  int
	resumes int
}

func (q *fakeQueue) PauseFor(owner string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.owners == nil {
		q.owners = make(map[string]bool)
	}
	q.owners[owner] = true
	q.pauses++
	return nil
}

func (q *fakeQueue) ResumeFor(owner string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.owners, owner)
	q.resumes++
	return nil
}

func (q *fakeQueue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.owners) > 0
}

func TestMonitorPausesUntilRecovered(t *testing.T) {
	var healthy atomic.Bool
	var probes atomic.Int32
	checker := health.CheckerFunc(func(ctx context.Context) health.Result {
		probes.Add(1)
		return health.Result{Healthy: healthy.Load()}
	})

	q := &fakeQueue{}
	recorder := &events.Recorder{}
	monitor := NewMonitor(checker, health.Config{Interval: time.Millisecond, SuccessThreshold: 3}, q, recorder)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx, sub)
		close(done)
	}()

	broker.Publish(&events.Event{Type: events.EventProviderUnreachable})
	require.Eventually(t, q.IsPaused, time.Second, time.Millisecond)

	// a second signal during the probe does not pause twice
	broker.Publish(&events.Event{Type: events.EventProviderUnreachable})
	require.Eventually(t, func() bool { return probes.Load() > 5 }, time.Second, time.Millisecond)
	assert.True(t, monitor.Probing())

	healthy.Store(true)
	require.Eventually(t, func() bool { return !q.IsPaused() }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(recorder.Events(events.EventProviderRecovered)) == 1 }, time.Second, time.Millisecond)

	cancel()
	<-done

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Equal(t, 1, q.pauses)
	assert.Equal(t, 1, q.resumes)
}

func TestMonitorLeavesForeignPause(t *testing.T) {
	var healthy atomic.Bool
	checker := health.CheckerFunc(func(ctx context.Context) health.Result {
		return health.Result{Healthy: healthy.Load()}
	})
	q := &fakeQueue{}
	recorder := &events.Recorder{}
	monitor := NewMonitor(checker, health.Config{Interval: time.Millisecond, SuccessThreshold: 1}, q, recorder)

	monitor.HandleUnreachable(context.Background())
	require.True(t, q.IsPaused())

	// capacity runs out while the provider is being probed
	require.NoError(t, q.PauseFor(queue.PauseCapacity))

	healthy.Store(true)
	require.Eventually(t, func() bool { return len(recorder.Events(events.EventProviderRecovered)) == 1 }, time.Second, time.Millisecond)

	assert.True(t, q.IsPaused(), "a pause made for another reason is kept")
	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Equal(t, map[string]bool{queue.PauseCapacity: true}, q.owners)
}
