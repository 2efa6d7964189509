package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/reconnect/pkg/log"
	"github.com/cuemby/reconnect/pkg/metrics"
	"github.com/cuemby/reconnect/pkg/queue"
	"github.com/cuemby/reconnect/pkg/reconciler"
	"github.com/cuemby/reconnect/pkg/scanner"
	"github.com/cuemby/reconnect/pkg/types"
)

// Queue is the part of the job queue exposed over HTTP
type Queue interface {
	Add(job types.ReconciliationJob) (*types.JobRecord, error)
	Get(id string) (*types.JobRecord, error)
	Update(id string, job types.ReconciliationJob) error
	Retry(id string) error
	Remove(id string) error
	Pause() error
	Resume() error
	IsPaused() bool
	PausedBy() []string
	List(status types.JobStatus) ([]*types.JobRecord, error)
	Counts() (map[string]int, error)
	Clear() (int, error)
}

// Reconciler runs a reconciliation outside the queue
type Reconciler interface {
	Reconcile(ctx context.Context, job types.ReconciliationJob) (types.CapacityMap, error)
}

// Scanner triggers ledger scans
type Scanner interface {
	Scan(ctx context.Context) (*scanner.Result, error)
	ScanFrom(ctx context.Context, block uint64) (*scanner.Result, error)
}

// Options wires a Server
type Options struct {
	Queue      Queue
	Reconciler Reconciler
	Scanner    Scanner

	// Token, when set, is required as a bearer token on every request that
	// changes state
	Token string
}

// Server is the admin HTTP API
type Server struct {
	queue      Queue
	reconciler Reconciler
	scanner    Scanner
	handler    http.Handler
	http       *http.Server
	logger     zerolog.Logger
}

// QueueStatus is the response of GET /queue
type QueueStatus struct {
	Counts   map[string]int `json:"counts"`
	IsPaused bool           `json:"isPaused"`
	PausedBy []string       `json:"pausedBy,omitempty"`
}

// UpdateGraphResponse is the response of POST /update/graph
type UpdateGraphResponse struct {
	UserID   string            `json:"dsnpId"`
	Capacity types.CapacityMap `json:"capacity"`
}

// ClearResponse is the response of POST /queue/clear
type ClearResponse struct {
	Removed int `json:"removed"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer creates the admin API
func NewServer(opts Options) *Server {
	s := &Server{
		queue:      opts.Queue,
		reconciler: opts.Reconciler,
		scanner:    opts.Scanner,
		logger:     log.WithComponent("api"),
	}

	mux := http.NewServeMux()
	mux.Handle("GET /health", metrics.HealthHandler())
	mux.Handle("GET /ready", metrics.ReadyHandler())
	mux.Handle("GET /live", metrics.LivenessHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /queue", s.queueStatus)
	mux.HandleFunc("GET /queue/{status}", s.listJobs)
	mux.HandleFunc("GET /queue/job/{id}", s.getJob)
	mux.HandleFunc("POST /queue", s.enqueue)
	mux.HandleFunc("POST /queue/update", s.updateJob)
	mux.HandleFunc("POST /queue/pause", s.pause)
	mux.HandleFunc("POST /queue/resume", s.resume)
	mux.HandleFunc("POST /queue/clear", s.clear)
	mux.HandleFunc("POST /queue/job/{id}/retry", s.retryJob)
	mux.HandleFunc("DELETE /queue/job/{id}", s.removeJob)
	mux.HandleFunc("POST /update/graph", s.updateGraph)
	mux.HandleFunc("POST /scan", s.scan)
	mux.HandleFunc("POST /scan/{block}", s.scanFrom)

	s.handler = logRequests(s.logger, readOnlyUnlessAuthorized(opts.Token, mux))
	return s
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves the API on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("admin API listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for running ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// statusOf maps domain errors to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrJobActive), errors.Is(err, scanner.ErrScanInProgress):
		return http.StatusConflict
	}

	switch reconciler.KindOf(err) {
	case reconciler.KindUserBusy:
		return http.StatusConflict
	case reconciler.KindProviderUnreachable:
		return http.StatusBadGateway
	case reconciler.KindCapacityLow:
		return http.StatusServiceUnavailable
	case reconciler.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func decodeJob(w http.ResponseWriter, r *http.Request) (types.ReconciliationJob, error) {
	var job types.ReconciliationJob
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&job); err != nil {
		return job, fmt.Errorf("invalid job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return job, err
	}
	return job, nil
}

func (s *Server) queueStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.queue.Counts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, QueueStatus{
		Counts:   counts,
		IsPaused: s.queue.IsPaused(),
		PausedBy: s.queue.PausedBy(),
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	status, ok := types.ParseJobStatus(r.PathValue("status"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unrecognized job status %q", r.PathValue("status")))
		return
	}
	jobs, err := s.queue.List(status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	job, err := decodeJob(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := s.queue.Add(job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

func (s *Server) updateJob(w http.ResponseWriter, r *http.Request) {
	job, err := decodeJob(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := job.Key()
	if err := s.queue.Update(id, job); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if err := s.queue.Retry(id); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	record, err := s.queue.Get(id)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Retry(r.PathValue("id")); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeJob(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Remove(r.PathValue("id")); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Pause(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Resume(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clear empties the queue and resumes it
func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	removed, err := s.queue.Clear()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.queue.Resume(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ClearResponse{Removed: removed})
}

func (s *Server) updateGraph(w http.ResponseWriter, r *http.Request) {
	job, err := decodeJob(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// a client hanging up must not abort a batch already on its way to the ledger
	used, err := s.reconciler.Reconcile(context.WithoutCancel(r.Context()), job)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if used == nil {
		used = types.CapacityMap{}
	}
	writeJSON(w, http.StatusOK, UpdateGraphResponse{UserID: job.UserID, Capacity: used})
}

func (s *Server) scan(w http.ResponseWriter, r *http.Request) {
	result, err := s.scanner.Scan(r.Context())
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) scanFrom(w http.ResponseWriter, r *http.Request) {
	block, err := strconv.ParseUint(r.PathValue("block"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid block number: %w", err))
		return
	}
	result, err := s.scanner.ScanFrom(r.Context(), block)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
