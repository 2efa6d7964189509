package deriver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/reconnect/pkg/graph"
	"github.com/cuemby/reconnect/pkg/ledger"
	"github.com/cuemby/reconnect/pkg/log"
	"github.com/cuemby/reconnect/pkg/metrics"
	"github.com/cuemby/reconnect/pkg/types"
)

// ErrUnrecognizedDirection is returned for a connection direction outside
// connectionTo, connectionFrom and bidirectional
var ErrUnrecognizedDirection = errors.New("unrecognized connection direction")

// Enqueuer accepts fan-out jobs. The deriver never waits on their outcome.
type Enqueuer interface {
	Add(job types.ReconciliationJob) (*types.JobRecord, error)
}

// KeySource reads a user's published graph public keys
type KeySource interface {
	DsnpKeys(ctx context.Context, userID string) (*graph.DsnpKeys, error)
}

// Deriver turns provider connections into engine actions
type Deriver struct {
	ledger   ledger.Client
	schemas  *graph.SchemaTable
	keys     KeySource
	enqueuer Enqueuer
	limit    int
	logger   zerolog.Logger
}

// New creates a deriver. limit bounds concurrent ledger reads.
func New(client ledger.Client, schemas *graph.SchemaTable, keys KeySource, enqueuer Enqueuer, limit int) *Deriver {
	if limit <= 0 {
		limit = 8
	}
	return &Deriver{
		ledger:   client,
		schemas:  schemas,
		keys:     keys,
		enqueuer: enqueuer,
		limit:    limit,
		logger:   log.WithComponent("deriver"),
	}
}

// Request is one derivation
type Request struct {
	UserID      string
	ProviderID  string
	Transitive  bool
	Connections []types.ProviderConnection
}

// ImportPeerKeys loads the public keys of every peer the user is adding to
// a private friendship. Failures are logged and skipped; Apply reports a
// peer whose keys are still missing.
func (d *Deriver) ImportPeerKeys(ctx context.Context, h graph.Handle, connections []types.ProviderConnection) {
	var peers []string
	for _, c := range connections {
		if c.IsOutgoing() && c.IsPrivateFriendship() && !slices.Contains(peers, c.PeerUserID) {
			peers = append(peers, c.PeerUserID)
		}
	}
	if len(peers) == 0 {
		return
	}

	var mu sync.Mutex
	var keys []graph.DsnpKeys
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit)
	for _, peer := range peers {
		g.Go(func() error {
			k, err := d.keys.DsnpKeys(gctx, peer)
			if err != nil {
				d.logger.Warn().Err(err).Str("peer_id", peer).Msg("failed to read peer keys")
				return nil
			}
			mu.Lock()
			keys = append(keys, *k)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := h.ImportPeerKeys(keys...); err != nil {
		d.logger.Warn().Err(err).Msg("failed to import peer keys")
	}
}

// Derive returns the Connect actions for req and enqueues a non-transitive
// job for every incoming connection from a delegated peer when
// req.Transitive is set. Connections whose schema the user has not
// delegated to the provider produce nothing.
func (d *Deriver) Derive(ctx context.Context, req Request) ([]graph.ConnectAction, error) {
	userKeys, err := d.keys.DsnpKeys(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if len(userKeys.Keys) == 0 {
		userKeys = nil
	}

	granted, err := d.ledger.GrantedSchemaIDs(ctx, req.UserID, req.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("failed to read delegation of %s: %w", req.UserID, err)
	}

	actions := make([]*graph.ConnectAction, len(req.Connections))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit)
	for i, c := range req.Connections {
		g.Go(func() error {
			action, err := d.derive(gctx, req, c, granted, userKeys)
			actions[i] = action
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]graph.ConnectAction, 0, len(actions))
	for _, a := range actions {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (d *Deriver) derive(ctx context.Context, req Request, c types.ProviderConnection, granted []graph.SchemaID, userKeys *graph.DsnpKeys) (*graph.ConnectAction, error) {
	switch c.Direction {
	case types.DirectionTo, types.DirectionFrom, types.DirectionBidirectional:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedDirection, c.Direction)
	}

	schemaID, ok := d.schemas.Resolve(c.ConnectionType, c.PrivacyType)
	if !ok || !slices.Contains(granted, schemaID) {
		return nil, nil
	}

	if c.IsIncoming() && req.Transitive {
		if err := d.fanOut(ctx, req, c, schemaID); err != nil {
			return nil, err
		}
	}

	if !c.IsOutgoing() {
		return nil, nil
	}
	return &graph.ConnectAction{
		OwnerUserID: req.UserID,
		Connection:  graph.Connection{UserID: c.PeerUserID, SchemaID: schemaID},
		DsnpKeys:    userKeys,
	}, nil
}

func (d *Deriver) fanOut(ctx context.Context, req Request, c types.ProviderConnection, schemaID graph.SchemaID) error {
	peerGranted, err := d.ledger.GrantedSchemaIDs(ctx, c.PeerUserID, req.ProviderID)
	if err != nil {
		return fmt.Errorf("failed to read delegation of %s: %w", c.PeerUserID, err)
	}
	if !slices.Contains(peerGranted, schemaID) {
		return nil
	}

	// child jobs never fan out again
	job := types.NewJob(c.PeerUserID, req.ProviderID, false)
	if _, err := d.enqueuer.Add(job); err != nil {
		d.logger.Warn().Err(err).Str("peer_id", c.PeerUserID).Msg("failed to enqueue peer job")
		return nil
	}
	metrics.FanOutJobsTotal.Inc()
	d.logger.Debug().Str("user_id", req.UserID).Str("peer_id", c.PeerUserID).Msg("enqueued peer job")
	return nil
}
