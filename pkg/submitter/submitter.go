package submitter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/reconnect/pkg/events"
	"github.com/cuemby/reconnect/pkg/graph"
	"github.com/cuemby/reconnect/pkg/ledger"
	"github.com/cuemby/reconnect/pkg/log"
	"github.com/cuemby/reconnect/pkg/metrics"
	"github.com/cuemby/reconnect/pkg/types"
)

var (
	// ErrNoEvent is returned when a batch produced no completion event
	ErrNoEvent = errors.New("no batch completion event observed")

	// ErrBatchInterrupted is returned when the ledger interrupted a batch
	ErrBatchInterrupted = errors.New("batch interrupted")
)

// Batches splits calls into consecutive batches of at most limit calls
func Batches(calls []ledger.Call, limit int) [][]ledger.Call {
	if limit <= 0 {
		limit = 1
	}
	var batches [][]ledger.Call
	for start := 0; start < len(calls); start += limit {
		end := min(start+limit, len(calls))
		batches = append(batches, calls[start:end])
	}
	return batches
}

// Submitter writes exported page updates to the ledger
type Submitter struct {
	ledger    ledger.Client
	account   ledger.Account
	publisher events.Publisher
	logger    zerolog.Logger
}

// New creates a submitter signing with account
func New(client ledger.Client, account ledger.Account, publisher events.Publisher) *Submitter {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Submitter{
		ledger:    client,
		account:   account,
		publisher: publisher,
		logger:    log.WithComponent("submitter"),
	}
}

// Submit sends the PersistPage updates in capacity batches and returns the
// capacity withdrawn per epoch. Batches are independent transactions and
// are submitted concurrently; the first failure is returned, classified as
// a *ledger.SubmitError.
func (s *Submitter) Submit(ctx context.Context, userID string, updates []graph.Update) (types.CapacityMap, error) {
	var calls []ledger.Call
	for _, u := range graph.PersistPages(updates) {
		calls = append(calls, ledger.UpsertPageCall(u))
	}

	used := types.CapacityMap{}
	batches := Batches(calls, s.ledger.CapacityBatchLimit())
	if len(batches) == 0 {
		return used, nil
	}

	logger := s.logger.With().Str("user_id", userID).Logger()
	logger.Debug().Int("batches", len(batches)).Int("calls", len(calls)).Msg("submitting batches")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		g.Go(func() error {
			epoch, withdrawn, err := s.submitBatch(gctx, batch)
			if err != nil {
				logger.Error().Err(err).Int("batch", i).Msg("batch failed")
				return err
			}
			mu.Lock()
			used.Add(epoch, withdrawn)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ledger.KindOf(err) == ledger.KindCapacityLow {
			s.publisher.Publish(&events.Event{
				Type:     events.EventCapacityLow,
				Message:  err.Error(),
				Metadata: map[string]string{"user_id": userID},
			})
		}
		return used, err
	}

	logger.Debug().Uint64("capacity", used.Total()).Msg("batches submitted")
	return used, nil
}

func (s *Submitter) submitBatch(ctx context.Context, batch []ledger.Call) (uint32, uint64, error) {
	epoch, err := s.ledger.CurrentCapacityEpoch(ctx)
	if err != nil {
		return 0, 0, &ledger.SubmitError{Kind: ledger.KindUnknown, Err: fmt.Errorf("failed to read capacity epoch: %w", err)}
	}

	metrics.BatchSize.Observe(float64(len(batch)))
	result, err := s.ledger.SubmitCapacityBatch(ctx, s.account, batch)
	if err != nil {
		err = ledger.Classify(err)
		metrics.BatchesSubmittedTotal.WithLabelValues(ledger.KindOf(err).String()).Inc()
		return 0, 0, err
	}

	switch {
	case result == nil || result.Event == ledger.EventNone:
		metrics.BatchesSubmittedTotal.WithLabelValues("no_event").Inc()
		return 0, 0, &ledger.SubmitError{Kind: ledger.KindUnknown, Err: ErrNoEvent}
	case result.Event == ledger.EventBatchInterrupted:
		metrics.BatchesSubmittedTotal.WithLabelValues("interrupted").Inc()
		return 0, 0, &ledger.SubmitError{Kind: ledger.KindUnknown, Err: ErrBatchInterrupted}
	case result.Event != ledger.EventBatchCompleted:
		metrics.BatchesSubmittedTotal.WithLabelValues("unexpected_event").Inc()
		return 0, 0, &ledger.SubmitError{Kind: ledger.KindUnknown, Err: fmt.Errorf("unexpected event %s", result.Event)}
	}

	metrics.BatchesSubmittedTotal.WithLabelValues("completed").Inc()
	metrics.CapacityWithdrawnTotal.Add(float64(result.CapacityWithdrawn))
	return epoch, result.CapacityWithdrawn, nil
}
