package bundle

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/reconnect/pkg/graph"
	"github.com/cuemby/reconnect/pkg/ledger"
	"github.com/cuemby/reconnect/pkg/log"
	"github.com/cuemby/reconnect/pkg/types"
)

var (
	// ErrUnsupportedKeyType is returned when a provider key pair is not X25519
	ErrUnsupportedKeyType = errors.New("only X25519 keys are supported")

	// ErrInvalidKeyPair is returned for key pairs that cannot be decoded
	ErrInvalidKeyPair = errors.New("invalid key pair")
)

// Builder turns ledger state into engine import bundles
type Builder struct {
	ledger  ledger.Client
	schemas *graph.SchemaTable
}

// NewBuilder creates a bundle builder
func NewBuilder(client ledger.Client, schemas *graph.SchemaTable) *Builder {
	return &Builder{ledger: client, schemas: schemas}
}

// DsnpKeys reads the graph public keys a user published on the ledger
func (b *Builder) DsnpKeys(ctx context.Context, userID string) (*graph.DsnpKeys, error) {
	page, err := b.ledger.ItemizedStorage(ctx, userID, b.schemas.PublicKeySchema())
	if err != nil {
		return nil, fmt.Errorf("failed to read public keys of %s: %w", userID, err)
	}

	keys := &graph.DsnpKeys{
		UserID:   userID,
		KeysHash: page.ContentHash,
		Keys:     make([]graph.KeyData, 0, len(page.Items)),
	}
	for _, item := range page.Items {
		keys.Keys = append(keys.Keys, graph.KeyData{Index: item.Index, Content: item.Payload})
	}
	return keys, nil
}

// KeyPairs decodes provider key pairs. Any key type other than X25519
// rejects the whole set.
func KeyPairs(pairs []types.ProviderKeyPair) ([]graph.KeyPair, error) {
	out := make([]graph.KeyPair, 0, len(pairs))
	for _, p := range pairs {
		if p.KeyType != types.KeyTypeX25519 {
			return nil, fmt.Errorf("%w: got %q", ErrUnsupportedKeyType, p.KeyType)
		}
		kp, err := graph.FromProviderKeyPair(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeyPair, err)
		}
		out = append(out, kp)
	}
	return out, nil
}

// Build returns the import bundles of a user: one per stored page, or a
// single page-less bundle when the user has no pages so the engine still
// creates the user.
func (b *Builder) Build(ctx context.Context, userID string, pairs []types.ProviderKeyPair) ([]graph.ImportBundle, error) {
	keyPairs, err := KeyPairs(pairs)
	if err != nil {
		return nil, err
	}

	schemaIDs := b.schemas.GraphSchemas()
	pages := make([][]ledger.Page, len(schemaIDs))
	var keys *graph.DsnpKeys

	g, gctx := errgroup.WithContext(ctx)
	for i, schemaID := range schemaIDs {
		g.Go(func() error {
			p, err := b.ledger.PaginatedStorage(gctx, userID, schemaID)
			if err != nil {
				return fmt.Errorf("failed to read schema %d pages of %s: %w", schemaID, userID, err)
			}
			pages[i] = p
			return nil
		})
	}
	g.Go(func() error {
		k, err := b.DsnpKeys(gctx, userID)
		keys = k
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(keys.Keys) == 0 {
		keys = nil
	}
	if len(keyPairs) == 0 {
		keyPairs = nil
	}

	var bundles []graph.ImportBundle
	for _, schemaPages := range pages {
		for _, p := range schemaPages {
			bundles = append(bundles, graph.ImportBundle{
				UserID:   userID,
				SchemaID: p.SchemaID,
				Pages:    []graph.PageData{{PageID: p.PageID, Content: p.Payload, ContentHash: p.ContentHash}},
				DsnpKeys: keys,
				KeyPairs: keyPairs,
			})
		}
	}

	if len(bundles) == 0 {
		logger := log.WithUserID(userID)
		logger.Debug().Msg("no graph pages stored, building keys-only bundle")
		bundles = append(bundles, graph.ImportBundle{
			UserID:   userID,
			SchemaID: b.schemas.PrivateFollow(),
			DsnpKeys: keys,
			KeyPairs: keyPairs,
		})
	}
	return bundles, nil
}
