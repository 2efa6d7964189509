package deriver

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/reconnect/pkg/bundle"
	"github.com/cuemby/reconnect/pkg/graph"
	"github.com/cuemby/reconnect/pkg/ledger"
	"github.com/cuemby/reconnect/pkg/types"
)

const providerID = "1000"

type recordingQueue struct {
	mu   sync.Mutex
	jobs []types.ReconciliationJob
	err  error
}

func (q *recordingQueue) Add(job types.ReconciliationJob) (*types.JobRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.jobs = append(q.jobs, job)
	return &types.JobRecord{ID: job.Key(), Data: job}, nil
}

func (q *recordingQueue) users() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, j := range q.jobs {
		out = append(out, j.UserID)
	}
	sort.Strings(out)
	return out
}

type fixture struct {
	deriver *Deriver
	ledger  *ledger.MemoryLedger
	schemas *graph.SchemaTable
	queue   *recordingQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := graph.LoadConfig(graph.EnvironmentMainnet, "")
	require.NoError(t, err)
	schemas, err := graph.NewSchemaTable(cfg)
	require.NoError(t, err)

	l := ledger.NewMemoryLedger(ledger.DefaultCallCost)
	q := &recordingQueue{}
	return &fixture{
		deriver: New(l, schemas, bundle.NewBuilder(l, schemas), q, 4),
		ledger:  l,
		schemas: schemas,
		queue:   q,
	}
}

func conn(peer string, ct types.ConnectionType, pt types.PrivacyType, dir types.Direction) types.ProviderConnection {
	return types.ProviderConnection{PeerUserID: peer, ConnectionType: ct, PrivacyType: pt, Direction: dir}
}

func follow(peer string, dir types.Direction) types.ProviderConnection {
	return conn(peer, types.ConnectionTypeFollow, types.PrivacyTypePublic, dir)
}

func TestDeriveDirections(t *testing.T) {
	tests := []struct {
		name        string
		direction   types.Direction
		transitive  bool
		wantActions int
		wantFanOut  []string
	}{
		{name: "to", direction: types.DirectionTo, transitive: true, wantActions: 1},
		{name: "from transitive", direction: types.DirectionFrom, transitive: true, wantFanOut: []string{"2"}},
		{name: "from non-transitive", direction: types.DirectionFrom},
		{name: "bidirectional transitive", direction: types.DirectionBidirectional, transitive: true, wantActions: 1, wantFanOut: []string{"2"}},
		{name: "bidirectional non-transitive", direction: types.DirectionBidirectional, wantActions: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ledger.Grant("1", providerID, f.schemas.PublicFollow())
			f.ledger.Grant("2", providerID, f.schemas.PublicFollow())

			actions, err := f.deriver.Derive(context.Background(), Request{
				UserID:      "1",
				ProviderID:  providerID,
				Transitive:  tt.transitive,
				Connections: []types.ProviderConnection{follow("2", tt.direction)},
			})
			require.NoError(t, err)
			require.Len(t, actions, tt.wantActions)
			for _, a := range actions {
				assert.Equal(t, "1", a.OwnerUserID)
				assert.Equal(t, graph.Connection{UserID: "2", SchemaID: f.schemas.PublicFollow()}, a.Connection)
			}
			assert.Equal(t, tt.wantFanOut, f.queue.users())
			for _, job := range f.queue.jobs {
				assert.False(t, job.Transitive, "fan-out jobs are never transitive")
				assert.Equal(t, providerID, job.ProviderID)
			}
		})
	}
}

func TestDeriveRequiresDelegation(t *testing.T) {
	for _, dir := range []types.Direction{types.DirectionTo, types.DirectionFrom, types.DirectionBidirectional} {
		t.Run(string(dir), func(t *testing.T) {
			f := newFixture(t)
			// user delegated another schema only, peer delegated everything
			f.ledger.Grant("1", providerID, f.schemas.PrivateFollow())
			f.ledger.Grant("2", providerID, f.schemas.GraphSchemas()...)

			actions, err := f.deriver.Derive(context.Background(), Request{
				UserID:      "1",
				ProviderID:  providerID,
				Transitive:  true,
				Connections: []types.ProviderConnection{follow("2", dir)},
			})
			require.NoError(t, err)
			assert.Empty(t, actions)
			assert.Empty(t, f.queue.users())
		})
	}
}

func TestDeriveFanOutRequiresPeerDelegation(t *testing.T) {
	f := newFixture(t)
	f.ledger.Grant("1", providerID, f.schemas.PublicFollow())
	f.ledger.Grant("3", providerID, f.schemas.PrivateFollow())

	actions, err := f.deriver.Derive(context.Background(), Request{
		UserID:     "1",
		ProviderID: providerID,
		Transitive: true,
		Connections: []types.ProviderConnection{
			follow("2", types.DirectionFrom),
			follow("3", types.DirectionFrom),
		},
	})
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.Empty(t, f.queue.users())
}

func TestDeriveMixedSchemas(t *testing.T) {
	f := newFixture(t)
	f.ledger.Grant("1", providerID, f.schemas.GraphSchemas()...)
	f.ledger.AddItem("1", f.schemas.PublicKeySchema(), []byte{7})

	actions, err := f.deriver.Derive(context.Background(), Request{
		UserID:     "1",
		ProviderID: providerID,
		Connections: []types.ProviderConnection{
			follow("2", types.DirectionTo),
			conn("3", types.ConnectionTypeFollow, types.PrivacyTypePrivate, types.DirectionTo),
			conn("4", types.ConnectionTypeFriendship, types.PrivacyTypePrivate, types.DirectionBidirectional),
			conn("5", types.ConnectionTypeFriendship, types.PrivacyTypePublic, types.DirectionTo),
		},
	})
	require.NoError(t, err)
	require.Len(t, actions, 3)

	assert.Equal(t, f.schemas.PublicFollow(), actions[0].Connection.SchemaID)
	assert.Equal(t, f.schemas.PrivateFollow(), actions[1].Connection.SchemaID)
	assert.Equal(t, f.schemas.PrivateFriendship(), actions[2].Connection.SchemaID)
	for _, a := range actions {
		require.NotNil(t, a.DsnpKeys, "the user's own keys are attached")
		assert.Len(t, a.DsnpKeys.Keys, 1)
	}
}

func TestDeriveUnrecognizedDirection(t *testing.T) {
	f := newFixture(t)
	f.ledger.Grant("1", providerID, f.schemas.PublicFollow())

	_, err := f.deriver.Derive(context.Background(), Request{
		UserID:      "1",
		ProviderID:  providerID,
		Connections: []types.ProviderConnection{follow("2", "sideways")},
	})
	assert.ErrorIs(t, err, ErrUnrecognizedDirection)
}

func TestDeriveFanOutFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("queue down")
	f.ledger.Grant("1", providerID, f.schemas.PublicFollow())
	f.ledger.Grant("2", providerID, f.schemas.PublicFollow())

	actions, err := f.deriver.Derive(context.Background(), Request{
		UserID:      "1",
		ProviderID:  providerID,
		Transitive:  true,
		Connections: []types.ProviderConnection{follow("2", types.DirectionBidirectional)},
	})
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestImportPeerKeys(t *testing.T) {
	f := newFixture(t)
	f.ledger.Grant("1", providerID, f.schemas.PrivateFriendship())
	f.ledger.AddItem("2", f.schemas.PublicKeySchema(), []byte{1})

	cfg, err := graph.LoadConfig(graph.EnvironmentMainnet, "")
	require.NoError(t, err)
	engine, err := graph.NewMemoryEngine(cfg)
	require.NoError(t, err)
	h, err := engine.Acquire("1")
	require.NoError(t, err)
	defer h.Release()
	require.NoError(t, h.Import(graph.ImportBundle{UserID: "1", SchemaID: f.schemas.PrivateFollow()}))

	connections := []types.ProviderConnection{
		conn("2", types.ConnectionTypeFriendship, types.PrivacyTypePrivate, types.DirectionTo),
		conn("3", types.ConnectionTypeFriendship, types.PrivacyTypePrivate, types.DirectionFrom),
	}
	f.deriver.ImportPeerKeys(context.Background(), h, connections)

	actions, err := f.deriver.Derive(context.Background(), Request{UserID: "1", ProviderID: providerID, Connections: connections})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.NoError(t, h.Apply(actions...))
}
