package bundle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/reconnect/pkg/graph"
	"github.com/cuemby/reconnect/pkg/ledger"
	"github.com/cuemby/reconnect/pkg/types"
)

func newTestBuilder(t *testing.T) (*Builder, *ledger.MemoryLedger, *graph.SchemaTable) {
	t.Helper()
	cfg, err := graph.LoadConfig(graph.EnvironmentMainnet, "")
	require.NoError(t, err)
	schemas, err := graph.NewSchemaTable(cfg)
	require.NoError(t, err)

	l := ledger.NewMemoryLedger(ledger.DefaultCallCost)
	return NewBuilder(l, schemas), l, schemas
}

func validKeyPair(t *testing.T) types.ProviderKeyPair {
	t.Helper()
	kp, err := graph.GenerateKeyPair()
	require.NoError(t, err)
	return kp.ProviderKeyPair()
}

func TestBuildWithoutPages(t *testing.T) {
	builder, _, schemas := newTestBuilder(t)

	bundles, err := builder.Build(context.Background(), "1", nil)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Equal(t, "1", bundles[0].UserID)
	assert.Equal(t, schemas.PrivateFollow(), bundles[0].SchemaID)
	assert.Empty(t, bundles[0].Pages)
	assert.Nil(t, bundles[0].DsnpKeys)
	assert.Nil(t, bundles[0].KeyPairs)
}

func TestBuildKeysOnly(t *testing.T) {
	builder, l, schemas := newTestBuilder(t)
	l.AddItem("1", schemas.PublicKeySchema(), []byte{9, 9})

	bundles, err := builder.Build(context.Background(), "1", []types.ProviderKeyPair{validKeyPair(t)})
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	require.NotNil(t, bundles[0].DsnpKeys)
	assert.Len(t, bundles[0].DsnpKeys.Keys, 1)
	assert.Len(t, bundles[0].KeyPairs, 1)
}

func TestBuildOneBundlePerPage(t *testing.T) {
	builder, l, schemas := newTestBuilder(t)
	l.SetPage("1", schemas.PublicFollow(), 0, []byte("a"))
	l.SetPage("1", schemas.PublicFollow(), 1, []byte("b"))
	hash := l.SetPage("1", schemas.PrivateFriendship(), 0, []byte("c"))
	l.SetPage("2", schemas.PublicFollow(), 0, []byte("other user"))
	l.AddItem("1", schemas.PublicKeySchema(), []byte{1})

	bundles, err := builder.Build(context.Background(), "1", nil)
	require.NoError(t, err)
	require.Len(t, bundles, 3)

	last := bundles[2]
	assert.Equal(t, schemas.PrivateFriendship(), last.SchemaID)
	require.Len(t, last.Pages, 1)
	assert.Equal(t, hash, last.Pages[0].ContentHash)
	assert.Equal(t, []byte("c"), last.Pages[0].Content)
	for _, b := range bundles {
		assert.Equal(t, "1", b.UserID)
		require.NotNil(t, b.DsnpKeys)
	}
}

func TestBuildRejectsKeyPairs(t *testing.T) {
	builder, _, _ := newTestBuilder(t)

	_, err := builder.Build(context.Background(), "1", []types.ProviderKeyPair{
		validKeyPair(t),
		{KeyType: "Ed25519", PublicKey: "0x01", PrivateKey: "0x02"},
	})
	assert.ErrorIs(t, err, ErrUnsupportedKeyType)

	_, err = builder.Build(context.Background(), "1", []types.ProviderKeyPair{
		{KeyType: types.KeyTypeX25519, PublicKey: "zz", PrivateKey: "0x02"},
	})
	assert.ErrorIs(t, err, ErrInvalidKeyPair)
}

func TestDsnpKeys(t *testing.T) {
	builder, l, schemas := newTestBuilder(t)
	l.AddItem("5", schemas.PublicKeySchema(), []byte{1})
	l.AddItem("5", schemas.PublicKeySchema(), []byte{2})

	keys, err := builder.DsnpKeys(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, "5", keys.UserID)
	assert.NotZero(t, keys.KeysHash)
	assert.Equal(t, []graph.KeyData{{Index: 0, Content: []byte{1}}, {Index: 1, Content: []byte{2}}}, keys.Keys)
}
