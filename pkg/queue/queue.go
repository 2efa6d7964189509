package queue

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/reconnect/pkg/events"
	"github.com/cuemby/reconnect/pkg/log"
	"github.com/cuemby/reconnect/pkg/metrics"
	"github.com/cuemby/reconnect/pkg/storage"
	"github.com/cuemby/reconnect/pkg/types"
)

var (
	// ErrJobNotFound is returned for operations on an unknown job id
	ErrJobNotFound = errors.New("job not found")

	// ErrJobActive is returned when an operation would disturb a running job
	ErrJobActive = errors.New("job is active")
)

const metaPaused = "queue.paused"

// Pause owners. The queue dispatches only while no owner holds a pause.
const (
	PauseOperator = "operator"
	PauseProvider = "provider"
	PauseCapacity = "capacity"
)

// Handler processes one job. The returned capacity map is kept on the
// completed record.
type Handler func(ctx context.Context, job *types.JobRecord) (types.CapacityMap, error)

// Config holds queue configuration
type Config struct {
	// Concurrency is the number of workers processing jobs
	Concurrency int

	// DefaultAttempts is the attempt budget of a job without debug options
	DefaultAttempts int

	// Backoff is the delay before a failed job with attempts left, or a
	// failed job that was resubmitted while running, is picked up again
	Backoff time.Duration

	// PollInterval bounds how long an idle worker sleeps before looking
	// for delayed jobs that became due
	PollInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Concurrency:     2,
		DefaultAttempts: 1,
		Backoff:         30 * time.Second,
		PollInterval:    time.Second,
	}
}

// Queue is a durable job queue keyed by (user, provider). At most one
// record exists per key, so a pair is never pending or running twice.
type Queue struct {
	store     storage.Store
	cfg       Config
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time

	mu     sync.Mutex
	pauses map[string]bool
	wake   chan struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New opens a queue over store. Jobs left active by a previous process are
// moved back to waiting.
func New(store storage.Store, cfg Config, publisher events.Publisher) (*Queue, error) {
	defaults := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.DefaultAttempts <= 0 {
		cfg.DefaultAttempts = defaults.DefaultAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if publisher == nil {
		publisher = events.Discard
	}

	q := &Queue{
		store:     store,
		cfg:       cfg,
		publisher: publisher,
		logger:    log.WithComponent("queue"),
		now:       time.Now,
		wake:      make(chan struct{}),
	}

	value, err := store.GetMeta(metaPaused)
	switch {
	case err == nil:
		q.pauses = decodePauses(value)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("failed to read pause flag: %w", err)
	}

	if err := q.recover(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) recover() error {
	jobs, err := q.store.ListJobs()
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	for _, job := range jobs {
		if job.Status != types.JobStatusActive {
			continue
		}
		q.logger.Warn().Str("job_id", job.ID).Msg("recovering job interrupted by shutdown")
		job.Status = types.JobStatusWaiting
		job.Rerun = false
		job.UpdatedAt = q.now()
		if err := q.store.PutJob(job); err != nil {
			return fmt.Errorf("failed to recover job %s: %w", job.ID, err)
		}
	}
	return nil
}

// notify wakes every idle worker. Callers hold q.mu.
func (q *Queue) notify() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *Queue) get(id string) (*types.JobRecord, error) {
	job, err := q.store.GetJob(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, err
}

// Add enqueues a job under its (user, provider) key. An existing record for
// the key is replaced and made runnable again; if it is running, it is
// marked to run once more after the current attempt. A record that is still
// waiting to run a transitive job stays transitive.
func (q *Queue) Add(job types.ReconciliationJob) (*types.JobRecord, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	id := job.Key()

	record, err := q.store.GetJob(id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		record = &types.JobRecord{ID: id, CreatedAt: now}
	case err != nil:
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	pending := record.Status == types.JobStatusWaiting || record.Status == types.JobStatusDelayed
	if pending && record.Data.Transitive {
		job.Transitive = true
	}

	record.Data = job
	record.UpdatedAt = now
	record.MaxAttempts = q.cfg.DefaultAttempts
	if job.Debug != nil && job.Debug.Attempts > 0 {
		record.MaxAttempts = job.Debug.Attempts
	}

	if record.Status == types.JobStatusActive {
		record.Rerun = true
	} else {
		resetForRun(record)
		if job.Debug != nil && job.Debug.Delay > 0 {
			record.Status = types.JobStatusDelayed
			record.RunAt = now.Add(job.Debug.Delay)
		}
	}

	if err := q.store.PutJob(record); err != nil {
		return nil, fmt.Errorf("failed to store job %s: %w", id, err)
	}
	q.notify()

	q.logger.Debug().
		Str("job_id", id).
		Bool("transitive", job.Transitive).
		Str("status", string(record.Status)).
		Msg("job queued")
	return record, nil
}

func resetForRun(record *types.JobRecord) {
	record.Status = types.JobStatusWaiting
	record.Attempts = 0
	record.Rerun = false
	record.RunAt = time.Time{}
	record.FailedReason = ""
	record.Result = nil
	record.FinishedAt = time.Time{}
}

// Get returns the job with the given id
func (q *Queue) Get(id string) (*types.JobRecord, error) {
	return q.get(id)
}

// Update replaces the data of an existing job without changing its state
func (q *Queue) Update(id string, job types.ReconciliationJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.Key() != id {
		return fmt.Errorf("job data key %s does not match job id %s", job.Key(), id)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	record, err := q.get(id)
	if err != nil {
		return err
	}
	record.Data = job
	record.UpdatedAt = q.now()
	return q.store.PutJob(record)
}

// Retry makes a finished or delayed job runnable immediately
func (q *Queue) Retry(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	record, err := q.get(id)
	if err != nil {
		return err
	}
	if record.Status == types.JobStatusActive {
		return fmt.Errorf("%w: %s", ErrJobActive, id)
	}

	resetForRun(record)
	record.UpdatedAt = q.now()
	if err := q.store.PutJob(record); err != nil {
		return err
	}
	q.notify()
	return nil
}

// Remove deletes a job that is not running
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	record, err := q.get(id)
	if err != nil {
		return err
	}
	if record.Status == types.JobStatusActive {
		return fmt.Errorf("%w: %s", ErrJobActive, id)
	}
	return q.store.DeleteJob(id)
}

// Pause stops dispatching new jobs on behalf of the operator. Jobs
// already running are not affected.
func (q *Queue) Pause() error {
	return q.PauseFor(PauseOperator)
}

// Resume drops every pause, whoever holds it, and restarts dispatching
func (q *Queue) Resume() error {
	return q.updatePauses(func(pauses map[string]bool) {
		clear(pauses)
	})
}

// PauseFor records a pause held by owner
func (q *Queue) PauseFor(owner string) error {
	return q.updatePauses(func(pauses map[string]bool) {
		pauses[owner] = true
	})
}

// ResumeFor drops the pause held by owner. Dispatching restarts once no
// other owner holds one.
func (q *Queue) ResumeFor(owner string) error {
	return q.updatePauses(func(pauses map[string]bool) {
		delete(pauses, owner)
	})
}

func (q *Queue) updatePauses(change func(map[string]bool)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := maps.Clone(q.pauses)
	if next == nil {
		next = make(map[string]bool)
	}
	change(next)
	if maps.Equal(next, q.pauses) {
		return nil
	}

	if err := q.store.PutMeta(metaPaused, encodePauses(next)); err != nil {
		return fmt.Errorf("failed to store pause flag: %w", err)
	}
	wasPaused := len(q.pauses) > 0
	q.pauses = next
	metrics.SetQueuePaused(pauseOwners(next))

	owners := strings.Join(pauseOwners(next), ",")
	paused := len(next) > 0
	if paused == wasPaused {
		q.logger.Debug().Str("owners", owners).Msg("pause owners changed")
		return nil
	}

	eventType := events.EventQueueResumed
	if paused {
		eventType = events.EventQueuePaused
		metrics.QueuePaused.Set(1)
		q.logger.Warn().Str("owners", owners).Msg("queue paused")
	} else {
		metrics.QueuePaused.Set(0)
		q.logger.Info().Msg("queue resumed")
	}
	q.notify()
	q.publisher.Publish(&events.Event{Type: eventType, Metadata: map[string]string{"owners": owners}})
	return nil
}

// IsPaused reports whether any owner holds a pause
func (q *Queue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pauses) > 0
}

// PausedBy returns the owners holding a pause, sorted
func (q *Queue) PausedBy() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return pauseOwners(q.pauses)
}

func pauseOwners(pauses map[string]bool) []string {
	return slices.Sorted(maps.Keys(pauses))
}

func encodePauses(pauses map[string]bool) []byte {
	return []byte(strings.Join(pauseOwners(pauses), ","))
}

// decodePauses also reads the single-byte flag older stores hold
func decodePauses(value []byte) map[string]bool {
	pauses := make(map[string]bool)
	switch {
	case len(value) == 0:
	case len(value) == 1 && value[0] <= 1:
		if value[0] == 1 {
			pauses[PauseOperator] = true
		}
	default:
		for _, owner := range strings.Split(string(value), ",") {
			if owner != "" {
				pauses[owner] = true
			}
		}
	}
	return pauses
}

// List returns the jobs in the given status in queue order
func (q *Queue) List(status types.JobStatus) ([]*types.JobRecord, error) {
	jobs, err := q.store.ListJobs()
	if err != nil {
		return nil, err
	}

	out := make([]*types.JobRecord, 0, len(jobs))
	for _, job := range jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	return out, nil
}

// Counts returns the number of jobs per status, including empty statuses
func (q *Queue) Counts() (map[string]int, error) {
	jobs, err := q.store.ListJobs()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(types.AllJobStatuses))
	for _, status := range types.AllJobStatuses {
		counts[string(status)] = 0
	}
	for _, job := range jobs {
		counts[string(job.Status)]++
	}
	return counts, nil
}

// Drain removes every waiting and delayed job
func (q *Queue) Drain() (int, error) {
	return q.removeWhere(func(job *types.JobRecord) bool {
		return job.Status == types.JobStatusWaiting || job.Status == types.JobStatusDelayed
	})
}

// Clear removes every job that is not running
func (q *Queue) Clear() (int, error) {
	return q.removeWhere(func(job *types.JobRecord) bool {
		return job.Status != types.JobStatusActive
	})
}

func (q *Queue) removeWhere(match func(*types.JobRecord) bool) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.ListJobs()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, job := range jobs {
		if !match(job) {
			continue
		}
		if err := q.store.DeleteJob(job.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
