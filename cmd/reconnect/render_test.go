package main

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"github.com/cuemby/reconnect/pkg/api"
	"github.com/cuemby/reconnect/pkg/scanner"
	"github.com/cuemby/reconnect/pkg/types"
)

func newGolden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRenderQueueStatus(t *testing.T) {
	out := renderQueueStatus(&api.QueueStatus{
		Counts: map[string]int{
			"waiting":   3,
			"delayed":   1,
			"active":    0,
			"completed": 12,
			"failed":    2,
		},
		IsPaused: true,
	})
	newGolden(t).Assert(t, "queue_status", []byte(out))
}

func TestRenderQueueStatusNamesPauseOwners(t *testing.T) {
	out := renderQueueStatus(&api.QueueStatus{
		IsPaused: true,
		PausedBy: []string{"capacity", "provider"},
	})
	assert.Contains(t, out, "Queue is paused (capacity, provider)\n")
}

func TestRenderJobs(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := renderJobs([]*types.JobRecord{
		{
			ID:          "1:1000",
			Data:        types.NewJob("1", "1000", true),
			Status:      types.JobStatusWaiting,
			MaxAttempts: 1,
			UpdatedAt:   base,
		},
		{
			ID:           "22:1000",
			Data:         types.NewJob("22", "1000", false),
			Status:       types.JobStatusFailed,
			Attempts:     1,
			MaxAttempts:  1,
			UpdatedAt:    base.Add(55 * time.Second),
			FailedReason: "bad response from provider webhook: 503 Service Unavailable",
		},
	})
	newGolden(t).Assert(t, "job_list", []byte(out))

	assert.Equal(t, "No jobs\n", renderJobs(nil))
}

func TestRenderJob(t *testing.T) {
	out := renderJob(&types.JobRecord{
		ID:           "22:1000",
		Data:         types.NewJob("22", "1000", false),
		Status:       types.JobStatusDelayed,
		Attempts:     1,
		MaxAttempts:  3,
		RunAt:        time.Date(2026, 1, 2, 3, 5, 30, 0, time.UTC),
		FailedReason: "no response from provider webhook: connection refused",
	})
	newGolden(t).Assert(t, "job_detail", []byte(out))
}

func TestRenderScan(t *testing.T) {
	tests := []struct {
		result *scanner.Result
		want   string
	}{
		{&scanner.Result{From: 8, To: 7}, "No new blocks after 7\n"},
		{&scanner.Result{From: 1, To: 7, Enqueued: 3}, "Scanned blocks 1..7, queued 3 jobs\n"},
		{
			&scanner.Result{From: 1, To: 2, Enqueued: 100, Stopped: true},
			"Scanned blocks 1..2, queued 100 jobs\nStopped early: queue reached its high water mark\n",
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, renderScan(tt.result))
	}
}
