package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/reconnect/pkg/ledger"
	"github.com/cuemby/reconnect/pkg/storage"
	"github.com/cuemby/reconnect/pkg/types"
)

const providerID = "1000"

type fakeQueue struct {
	mu      sync.Mutex
	jobs    []types.ReconciliationJob
	pending int
}

func (q *fakeQueue) Add(job types.ReconciliationJob) (*types.JobRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	q.pending++
	return &types.JobRecord{ID: job.Key(), Data: job}, nil
}

func (q *fakeQueue) Counts() (map[string]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return map[string]int{string(types.JobStatusWaiting): q.pending}, nil
}

func (q *fakeQueue) users() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, j := range q.jobs {
		out = append(out, j.UserID)
	}
	return out
}

func newTestScanner(t *testing.T, cfg Config) (*Scanner, *ledger.MemoryLedger, *fakeQueue, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg.ProviderID = providerID
	client := ledger.NewMemoryLedger(0)
	queue := &fakeQueue{}
	return New(client, queue, store, cfg), client, queue, store
}

func TestScanEnqueuesDelegations(t *testing.T) {
	s, client, queue, _ := newTestScanner(t, Config{ChunkSize: 2})

	client.Grant("1", providerID, 8)
	client.Grant("2", "2000", 8)
	client.Grant("3", providerID, 8, 9)

	result, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Result{From: 1, To: 3, Enqueued: 2}, result)
	assert.Equal(t, []string{"1", "3"}, queue.users())
	for _, job := range queue.jobs {
		assert.True(t, job.Transitive)
		assert.Equal(t, providerID, job.ProviderID)
	}

	last, err := s.LastBlock()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)
}

func TestScanResumesFromCursor(t *testing.T) {
	s, client, queue, _ := newTestScanner(t, Config{})

	client.Grant("1", providerID, 8)
	_, err := s.Scan(context.Background())
	require.NoError(t, err)

	result, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Enqueued)

	client.Grant("2", providerID, 8)
	result, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), result.From)
	assert.Equal(t, []string{"1", "2"}, queue.users())
}

func TestScanCursorSurvivesRestart(t *testing.T) {
	s, client, _, store := newTestScanner(t, Config{})
	client.Grant("1", providerID, 8)
	_, err := s.Scan(context.Background())
	require.NoError(t, err)

	queue := &fakeQueue{}
	restarted := New(client, queue, store, Config{ProviderID: providerID})
	result, err := restarted.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Enqueued)
	assert.Empty(t, queue.users())
}

func TestScanFromRewinds(t *testing.T) {
	s, client, queue, _ := newTestScanner(t, Config{})
	client.Grant("1", providerID, 8)
	client.Grant("2", providerID, 8)

	_, err := s.Scan(context.Background())
	require.NoError(t, err)

	result, err := s.ScanFrom(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Enqueued)
	assert.Equal(t, []string{"1", "2", "2"}, queue.users())
}

func TestScanStopsAtHighWater(t *testing.T) {
	s, client, queue, _ := newTestScanner(t, Config{ChunkSize: 1, HighWater: 2})
	for _, user := range []string{"1", "2", "3", "4"} {
		client.Grant(user, providerID, 8)
	}

	result, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Stopped)
	assert.Equal(t, uint64(2), result.To)
	assert.Equal(t, []string{"1", "2"}, queue.users())

	// the queue drains and the next scan picks up block 3
	queue.mu.Lock()
	queue.pending = 0
	queue.mu.Unlock()

	result, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), result.From)
	assert.Equal(t, []string{"1", "2", "3", "4"}, queue.users())
}

func TestScanRejectsConcurrentScans(t *testing.T) {
	s, _, _, _ := newTestScanner(t, Config{})

	s.scanning.Lock()
	_, err := s.Scan(context.Background())
	assert.ErrorIs(t, err, ErrScanInProgress)
	_, err = s.ScanFrom(context.Background(), 1)
	assert.ErrorIs(t, err, ErrScanInProgress)
	s.scanning.Unlock()
}

func TestStartScansPeriodically(t *testing.T) {
	s, client, queue, _ := newTestScanner(t, Config{Interval: 10 * time.Millisecond})
	client.Grant("1", providerID, 8)

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return len(queue.users()) == 1 }, time.Second, 5*time.Millisecond)

	client.Grant("2", providerID, 8)
	require.Eventually(t, func() bool { return len(queue.users()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestStopWithoutStart(t *testing.T) {
	s, _, _, _ := newTestScanner(t, Config{Interval: 10 * time.Millisecond})

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a scanner that was never started")
	}
}

func TestStopTwiceAfterStart(t *testing.T) {
	s, client, queue, _ := newTestScanner(t, Config{Interval: 10 * time.Millisecond})
	client.Grant("1", providerID, 8)

	s.Start(context.Background())
	s.Start(context.Background())
	require.Eventually(t, func() bool { return len(queue.users()) == 1 }, time.Second, 5*time.Millisecond)

	assert.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
}
