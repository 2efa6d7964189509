package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/reconnect/pkg/events"
	"github.com/cuemby/reconnect/pkg/metrics"
	"github.com/cuemby/reconnect/pkg/storage"
	"github.com/cuemby/reconnect/pkg/types"
)

// Start launches the worker pool. Workers stop picking up jobs when ctx is
// cancelled or Stop is called; a job already running is allowed to finish.
func (q *Queue) Start(ctx context.Context, handler Handler) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	q.logger.Info().Int("concurrency", q.cfg.Concurrency).Msg("queue workers started")
}

// Stop stops the workers and waits for running jobs to finish
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context, handler Handler) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		job, wake, err := q.claim()
		if err != nil {
			q.logger.Error().Err(err).Msg("failed to claim job")
		}
		if job != nil {
			// running jobs are never cancelled mid-step
			q.process(context.WithoutCancel(ctx), handler, job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

// claim marks the oldest runnable job active. It also returns the wake
// channel observed under the lock so no notification is lost between an
// empty claim and the wait.
func (q *Queue) claim() (*types.JobRecord, <-chan struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	wake := q.wake
	if len(q.pauses) > 0 {
		return nil, wake, nil
	}

	jobs, err := q.store.ListJobs()
	if err != nil {
		return nil, wake, err
	}

	now := q.now()
	for _, job := range jobs {
		if !job.Runnable(now) {
			continue
		}
		job.Status = types.JobStatusActive
		job.UpdatedAt = now
		if err := q.store.PutJob(job); err != nil {
			return nil, wake, err
		}
		return job, wake, nil
	}
	return nil, wake, nil
}

func (q *Queue) process(ctx context.Context, handler Handler, job *types.JobRecord) {
	logger := q.logger.With().Str("job_id", job.ID).Logger()
	logger.Debug().Bool("transitive", job.Data.Transitive).Msg("processing job")

	result, err := handler(ctx, job)
	if ferr := q.finish(job.ID, result, err); ferr != nil {
		logger.Error().Err(ferr).Msg("failed to record job outcome")
	}
}

// finish records the outcome of an attempt. The record is reloaded because
// Add may have changed it while the handler ran.
func (q *Queue) finish(id string, result types.CapacityMap, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := q.now()
	job.Attempts++
	job.UpdatedAt = now

	var outcome string
	switch {
	case jobErr == nil && job.Rerun:
		resetForRun(job)
		outcome = "rerun"
	case jobErr == nil:
		job.Status = types.JobStatusCompleted
		job.Result = result
		job.FailedReason = ""
		job.FinishedAt = now
		outcome = "completed"
	case job.Rerun:
		resetForRun(job)
		job.Status = types.JobStatusDelayed
		job.RunAt = now.Add(q.cfg.Backoff)
		job.FailedReason = jobErr.Error()
		outcome = "requeued"
	case job.Attempts < job.MaxAttempts:
		job.Status = types.JobStatusDelayed
		job.RunAt = now.Add(q.cfg.Backoff)
		job.FailedReason = jobErr.Error()
		outcome = "retrying"
	default:
		job.Status = types.JobStatusFailed
		job.FailedReason = jobErr.Error()
		job.FinishedAt = now
		outcome = "failed"
	}

	if err := q.store.PutJob(job); err != nil {
		return err
	}
	q.notify()

	metrics.JobsProcessedTotal.WithLabelValues(outcome).Inc()

	event := &events.Event{
		Metadata: map[string]string{"job_id": id, "outcome": outcome},
	}
	switch outcome {
	case "completed":
		event.Type = events.EventJobCompleted
	case "failed":
		event.Type = events.EventJobFailed
		event.Message = job.FailedReason
		q.logger.Error().Str("job_id", id).Str("reason", job.FailedReason).Msg("job failed")
	default:
		return nil
	}
	q.publisher.Publish(event)
	return nil
}
