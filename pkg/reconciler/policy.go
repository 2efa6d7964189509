package reconciler

import (
	"context"

	"github.com/cuemby/reconnect/pkg/events"
	"github.com/cuemby/reconnect/pkg/metrics"
	"github.com/cuemby/reconnect/pkg/queue"
	"github.com/cuemby/reconnect/pkg/types"
)

// HandleJob runs a queued job and applies the failure policy:
//
//   - stale page hash: a fresh non-transitive run is queued and the job
//     reports success
//   - capacity exhausted: the queue takes a capacity pause and the error
//     is returned
//   - provider or unknown submission failures: a non-transitive run is
//     queued when the job was transitive, a graph.error event is published
//     and the error returned
//   - anything else: the error is returned
func (r *Reconciler) HandleJob(ctx context.Context, rec *types.JobRecord) (types.CapacityMap, error) {
	job := rec.Data
	used, err := r.Reconcile(ctx, job)
	if err == nil {
		return used, nil
	}

	kind := KindOf(err)
	logger := r.logger.With().Str("job_id", rec.ID).Str("kind", kind.String()).Logger()
	logger.Error().Err(err).Msg("error updating graph")

	switch kind {
	case KindStaleHash:
		r.requeue(job.NonTransitive(), kind)
		return nil, nil

	case KindCapacityLow:
		if perr := r.queue.PauseFor(queue.PauseCapacity); perr != nil {
			logger.Error().Err(perr).Msg("failed to pause queue")
		}
		return nil, err

	case KindProviderUnreachable, KindProviderShape, KindUnknownSubmission:
		if job.Transitive {
			r.requeue(job.NonTransitive(), kind)
		}
		r.publisher.Publish(&events.Event{
			Type:    events.EventGraphError,
			Message: err.Error(),
			Metadata: map[string]string{
				"job_id":  rec.ID,
				"user_id": job.UserID,
				"kind":    kind.String(),
			},
		})
		return nil, err

	case KindUserBusy:
		r.requeue(job, kind)
		return nil, err

	default:
		return nil, err
	}
}

func (r *Reconciler) requeue(job types.ReconciliationJob, kind Kind) {
	if _, err := r.queue.Add(job); err != nil {
		r.logger.Error().Err(err).Str("user_id", job.UserID).Msg("failed to requeue job")
		return
	}
	metrics.JobsRequeuedTotal.WithLabelValues(kind.String()).Inc()
	r.publisher.Publish(&events.Event{
		Type: events.EventJobRequeued,
		Metadata: map[string]string{
			"job_id": job.Key(),
			"reason": kind.String(),
		},
	})
}
