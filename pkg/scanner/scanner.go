package scanner

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/reconnect/pkg/ledger"
	"github.com/cuemby/reconnect/pkg/log"
	"github.com/cuemby/reconnect/pkg/metrics"
	"github.com/cuemby/reconnect/pkg/storage"
	"github.com/cuemby/reconnect/pkg/types"
)

// ErrScanInProgress is returned when a scan is requested while one runs
var ErrScanInProgress = errors.New("scan already in progress")

const metaLastBlock = "scanner.last_block"

// Queue is what the scanner needs from the job queue
type Queue interface {
	Add(job types.ReconciliationJob) (*types.JobRecord, error)
	Counts() (map[string]int, error)
}

// Config holds scanner configuration
type Config struct {
	// ProviderID selects the delegations the scanner acts on
	ProviderID string

	// Interval between scans
	Interval time.Duration

	// HighWater stops a scan once this many jobs are pending
	HighWater int

	// ChunkSize is the number of blocks read per ledger query
	ChunkSize uint64
}

// Result describes one scan
type Result struct {
	From     uint64 `json:"from"`
	To       uint64 `json:"to"`
	Enqueued int    `json:"enqueued"`
	Stopped  bool   `json:"stoppedAtHighWater"`
}

// Scanner walks ledger blocks for new delegations to our provider and
// enqueues a transitive job for each delegating user
type Scanner struct {
	ledger ledger.Client
	queue  Queue
	store  storage.Store
	cfg    Config
	logger zerolog.Logger

	scanning  sync.Mutex
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	done      chan struct{}
}

// New creates a scanner. The last scanned block is kept in store.
func New(client ledger.Client, queue Queue, store storage.Store, cfg Config) *Scanner {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 100
	}
	return &Scanner{
		ledger: client,
		queue:  queue,
		store:  store,
		cfg:    cfg,
		logger: log.WithComponent("scanner"),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start scans immediately and then every Interval until Stop. Only the
// first call starts the loop.
func (s *Scanner) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.run(ctx)
	})
}

// Stop stops the scan loop and waits for it to exit. It is safe to call
// more than once and before Start.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	if s.started.Load() {
		<-s.done
	}
}

func (s *Scanner) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Scan(ctx); err != nil && !errors.Is(err, ErrScanInProgress) {
			s.logger.Error().Err(err).Msg("ledger scan failed")
		}

		select {
		case <-ticker.C:
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// LastBlock returns the last block fully scanned
func (s *Scanner) LastBlock() (uint64, error) {
	value, err := s.store.GetMeta(metaLastBlock)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("corrupt scanner cursor of %d bytes", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

func (s *Scanner) setLastBlock(block uint64) error {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, block)
	if err := s.store.PutMeta(metaLastBlock, value); err != nil {
		return fmt.Errorf("failed to store scanner cursor: %w", err)
	}
	metrics.ScannerLastBlock.Set(float64(block))
	return nil
}

// Scan reads the blocks after the last scanned one
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	if !s.scanning.TryLock() {
		return nil, ErrScanInProgress
	}
	defer s.scanning.Unlock()

	last, err := s.LastBlock()
	if err != nil {
		return nil, err
	}
	return s.scan(ctx, last+1)
}

// ScanFrom rewinds the cursor and scans from block onwards
func (s *Scanner) ScanFrom(ctx context.Context, block uint64) (*Result, error) {
	if !s.scanning.TryLock() {
		return nil, ErrScanInProgress
	}
	defer s.scanning.Unlock()

	if block == 0 {
		block = 1
	}
	return s.scan(ctx, block)
}

func (s *Scanner) scan(ctx context.Context, from uint64) (*Result, error) {
	latest, err := s.ledger.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest block: %w", err)
	}

	result := &Result{From: from, To: from - 1}
	if from > latest {
		return result, nil
	}

	s.logger.Debug().Uint64("from", from).Uint64("to", latest).Msg("scanning ledger")

	for start := from; start <= latest; start += s.cfg.ChunkSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		full, err := s.atHighWater()
		if err != nil {
			return result, err
		}
		if full {
			result.Stopped = true
			s.logger.Info().Uint64("block", start).Msg("queue at high water, stopping scan")
			break
		}

		end := min(start+s.cfg.ChunkSize-1, latest)
		changes, err := s.ledger.DelegationChanges(ctx, start, end)
		if err != nil {
			return result, fmt.Errorf("failed to read delegations in %d..%d: %w", start, end, err)
		}

		for _, change := range changes {
			if change.ProviderID != s.cfg.ProviderID {
				continue
			}
			job := types.NewJob(change.UserID, change.ProviderID, true)
			if _, err := s.queue.Add(job); err != nil {
				return result, fmt.Errorf("failed to enqueue %s: %w", job.Key(), err)
			}
			result.Enqueued++
		}

		if err := s.setLastBlock(end); err != nil {
			return result, err
		}
		result.To = end
	}

	if result.Enqueued > 0 {
		s.logger.Info().
			Uint64("from", result.From).
			Uint64("to", result.To).
			Int("enqueued", result.Enqueued).
			Msg("scheduled jobs for new delegations")
	}
	return result, nil
}

func (s *Scanner) atHighWater() (bool, error) {
	if s.cfg.HighWater <= 0 {
		return false, nil
	}
	counts, err := s.queue.Counts()
	if err != nil {
		return false, fmt.Errorf("failed to count jobs: %w", err)
	}
	pending := counts[string(types.JobStatusWaiting)] + counts[string(types.JobStatusDelayed)]
	return pending >= s.cfg.HighWater, nil
}
