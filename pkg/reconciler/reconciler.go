package reconciler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/reconnect/pkg/deriver"
	"github.com/cuemby/reconnect/pkg/events"
	"github.com/cuemby/reconnect/pkg/graph"
	"github.com/cuemby/reconnect/pkg/log"
	"github.com/cuemby/reconnect/pkg/metrics"
	"github.com/cuemby/reconnect/pkg/provider"
	"github.com/cuemby/reconnect/pkg/types"
)

// Fetcher reads a user's connections from the provider
type Fetcher interface {
	Fetch(ctx context.Context, userID, providerID string) (*provider.Graph, error)
}

// BundleBuilder builds import bundles from ledger state
type BundleBuilder interface {
	Build(ctx context.Context, userID string, pairs []types.ProviderKeyPair) ([]graph.ImportBundle, error)
}

// ActionDeriver derives Connect actions
type ActionDeriver interface {
	ImportPeerKeys(ctx context.Context, h graph.Handle, connections []types.ProviderConnection)
	Derive(ctx context.Context, req deriver.Request) ([]graph.ConnectAction, error)
}

// Submitter writes exported updates to the ledger
type Submitter interface {
	Submit(ctx context.Context, userID string, updates []graph.Update) (types.CapacityMap, error)
}

// Queue is what the error policy needs from the job queue
type Queue interface {
	Add(job types.ReconciliationJob) (*types.JobRecord, error)
	PauseFor(owner string) error
}

// Options wires a Reconciler
type Options struct {
	Fetcher   Fetcher
	Bundles   BundleBuilder
	Deriver   ActionDeriver
	Engine    graph.Engine
	Submitter Submitter
	Queue     Queue
	Publisher events.Publisher
}

// Reconciler brings a user's ledger graph in line with the provider
type Reconciler struct {
	fetcher   Fetcher
	bundles   BundleBuilder
	deriver   ActionDeriver
	engine    graph.Engine
	submitter Submitter
	queue     Queue
	publisher events.Publisher
	logger    zerolog.Logger
}

// New creates a reconciler
func New(opts Options) *Reconciler {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.Discard
	}
	return &Reconciler{
		fetcher:   opts.Fetcher,
		bundles:   opts.Bundles,
		deriver:   opts.Deriver,
		engine:    opts.Engine,
		submitter: opts.Submitter,
		queue:     opts.Queue,
		publisher: publisher,
		logger:    log.WithComponent("reconciler"),
	}
}

// Reconcile runs the pipeline for one job and returns the capacity
// withdrawn per epoch. The user's engine state is released on every path.
// Errors are *Error.
func (r *Reconciler) Reconcile(ctx context.Context, job types.ReconciliationJob) (used types.CapacityMap, err error) {
	timer := metrics.NewTimer()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		timer.ObserveDurationVec(metrics.ReconciliationDuration, outcome)
	}()

	userID := job.UserID
	logger := r.logger.With().
		Str("user_id", userID).
		Str("provider_id", job.ProviderID).
		Bool("transitive", job.Transitive).
		Logger()
	logger.Debug().Msg("updating user graph")

	providerGraph, err := r.fetcher.Fetch(ctx, userID, job.ProviderID)
	if err != nil {
		return nil, newError(StageFetching, userID, err)
	}

	h, err := r.engine.Acquire(userID)
	if err != nil {
		return nil, newError(StageImporting, userID, err)
	}
	defer h.Release()

	if err := r.importBundles(ctx, h, providerGraph.KeyPairs); err != nil {
		return nil, newError(StageImporting, userID, err)
	}

	r.deriver.ImportPeerKeys(ctx, h, providerGraph.Connections)
	actions, err := r.deriver.Derive(ctx, deriver.Request{
		UserID:      userID,
		ProviderID:  job.ProviderID,
		Transitive:  job.Transitive,
		Connections: providerGraph.Connections,
	})
	if err != nil {
		return nil, newError(StageDeriving, userID, err)
	}
	if len(actions) > 0 {
		if err := h.Apply(actions...); err != nil {
			if !graph.IsAlreadyExists(err) {
				return nil, newError(StageDeriving, userID, fmt.Errorf("%w: %w", errApply, err))
			}
			logger.Warn().Err(err).Msg("skipped existing connections")
		}
	}

	updates, err := h.Export()
	if err != nil {
		return nil, newError(StageExporting, userID, err)
	}

	used, err = r.submitter.Submit(ctx, userID, updates)
	if err != nil {
		return nil, newError(StageSubmitting, userID, err)
	}

	if err := r.importBundles(ctx, h, providerGraph.KeyPairs); err != nil {
		return nil, newError(StageVerifying, userID, err)
	}
	if !h.ContainsUser() {
		return nil, newError(StageVerifying, userID, ErrGraphInconsistency)
	}

	logger.Info().
		Int("actions", len(actions)).
		Int("updates", len(updates)).
		Uint64("capacity", used.Total()).
		Msg("user graph updated")
	return used, nil
}

func (r *Reconciler) importBundles(ctx context.Context, h graph.Handle, pairs []types.ProviderKeyPair) error {
	bundles, err := r.bundles.Build(ctx, h.UserID(), pairs)
	if err != nil {
		return err
	}
	return h.Import(bundles...)
}
