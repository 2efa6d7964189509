package types

import (
	"time"
)

// JobStatus is the queue state of a job record
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// AllJobStatuses lists every status in display order
var AllJobStatuses = []JobStatus{
	JobStatusWaiting,
	JobStatusDelayed,
	JobStatusActive,
	JobStatusCompleted,
	JobStatusFailed,
}

// ParseJobStatus validates a status name
func ParseJobStatus(s string) (JobStatus, bool) {
	for _, status := range AllJobStatuses {
		if string(status) == s {
			return status, true
		}
	}
	return "", false
}

// JobRecord is a job as the queue persists it
type JobRecord struct {
	ID     string            `json:"id"`
	Seq    uint64            `json:"seq"`
	Data   ReconciliationJob `json:"data"`
	Status JobStatus         `json:"status"`

	Attempts    int `json:"attemptsMade"`
	MaxAttempts int `json:"maxAttempts"`

	// Rerun is set when the job is resubmitted while it is running. The
	// worker moves it back to waiting instead of a terminal state.
	Rerun bool `json:"rerun,omitempty"`

	RunAt        time.Time   `json:"runAt"`
	FailedReason string      `json:"failedReason,omitempty"`
	Result       CapacityMap `json:"result,omitempty"`

	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Runnable reports whether a worker may pick the job up at now
func (r *JobRecord) Runnable(now time.Time) bool {
	switch r.Status {
	case JobStatusWaiting:
		return true
	case JobStatusDelayed:
		return !now.Before(r.RunAt)
	default:
		return false
	}
}

// Finished reports whether the job reached a terminal state
func (r *JobRecord) Finished() bool {
	return r.Status == JobStatusCompleted || r.Status == JobStatusFailed
}
