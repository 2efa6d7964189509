/*
Package log provides structured logging for reconnect using zerolog.

A single global zerolog.Logger is configured once at startup by Init and
shared by every package. Components derive child loggers that carry
identifying fields so that one job can be followed through the fetcher,
the deriver, the submitter and the queue:

	log.Init(log.Config{Level: log.DebugLevel, JSONOutput: true})

	logger := log.WithComponent("submitter")
	logger.Debug().Int("batches", 3).Msg("submitting batches")

	jobLogger := log.WithJob(jobID, job.UserID, job.ProviderID)
	jobLogger.Error().Err(err).Msg("reconciliation failed")

# Output

Console output (the default) is meant for operators running the service in
a terminal. JSON output is meant for log shippers:

	{"level":"info","component":"queue","time":"2026-01-02T10:00:00Z","message":"queue paused"}

# Levels

Debug is per-page and per-batch detail. Info covers job lifecycle and queue
state changes. Warn covers absorbed failures such as a transient provider
error or an "already exists" apply result. Error is reserved for failures
that end a job.
*/
package log
