package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/reconnect/pkg/types"
)

func testConfig() Config {
	cfg := networkConfig()
	return cfg
}

func newTestEngine(t *testing.T) *MemoryEngine {
	t.Helper()
	engine, err := NewMemoryEngine(testConfig())
	require.NoError(t, err)
	return engine
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     EnvironmentType
		devJSON string
		wantErr bool
	}{
		{name: "mainnet", env: EnvironmentMainnet},
		{name: "rococo", env: EnvironmentRococo},
		{
			name: "dev",
			env:  EnvironmentDev,
			devJSON: `{"sdkMaxStaleFriendshipDays":90,"maxPageId":4,"maxGraphPageSizeBytes":1024,` +
				`"schemaMap":{"1":{"dsnpVersion":"1.0","connectionType":"follow","privacyType":"public"},` +
				`"2":{"dsnpVersion":"1.0","connectionType":"follow","privacyType":"private"},` +
				`"3":{"dsnpVersion":"1.0","connectionType":"friendship","privacyType":"private"}},` +
				`"graphPublicKeySchemaId":4,"dsnpVersions":["1.0"]}`,
		},
		{
			name: "dev with comments",
			env:  EnvironmentDev,
			devJSON: `{
				// schema ids of a local chain
				"schemaMap": {
					"1": {"dsnpVersion": "1.0", "connectionType": "follow", "privacyType": "public"},
					"2": {"dsnpVersion": "1.0", "connectionType": "follow", "privacyType": "private"},
					"3": {"dsnpVersion": "1.0", "connectionType": "friendship", "privacyType": "private"},
				},
				"graphPublicKeySchemaId": 4, /* itemized */
			}`,
		},
		{name: "dev without config", env: EnvironmentDev, wantErr: true},
		{name: "dev with bad schema id", env: EnvironmentDev, devJSON: `{"schemaMap":{"x":{}}}`, wantErr: true},
		{name: "unknown", env: "Testnet", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(tt.env, tt.devJSON)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, err = NewSchemaTable(cfg)
			assert.NoError(t, err)
		})
	}
}

func TestSchemaTable(t *testing.T) {
	table, err := NewSchemaTable(testConfig())
	require.NoError(t, err)

	id, ok := table.Resolve(types.ConnectionTypeFollow, types.PrivacyTypePublic)
	assert.True(t, ok)
	assert.Equal(t, SchemaID(8), id)

	id, ok = table.Resolve(types.ConnectionTypeFriendship, types.PrivacyTypePrivate)
	assert.True(t, ok)
	assert.Equal(t, SchemaID(10), id)

	_, ok = table.Resolve(types.ConnectionTypeFriendship, types.PrivacyTypePublic)
	assert.False(t, ok)

	assert.Equal(t, []SchemaID{8, 9, 10}, table.GraphSchemas())
	assert.Equal(t, SchemaID(7), table.PublicKeySchema())

	_, err = NewSchemaTable(Config{SchemaMap: map[SchemaID]SchemaConfig{
		1: {ConnectionType: types.ConnectionTypeFollow, PrivacyType: types.PrivacyTypePublic},
	}})
	assert.Error(t, err)
}

func TestKeyPairs(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, kp.Validate())

	decoded, err := FromProviderKeyPair(kp.ProviderKeyPair())
	require.NoError(t, err)
	assert.Equal(t, kp, decoded)

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	mismatched := KeyPair{KeyType: types.KeyTypeX25519, PublicKey: other.PublicKey, SecretKey: kp.SecretKey}
	assert.Error(t, mismatched.Validate())

	_, err = FromProviderKeyPair(types.ProviderKeyPair{KeyType: "Ed25519"})
	assert.Error(t, err)
}

func TestAcquireIsExclusive(t *testing.T) {
	engine := newTestEngine(t)

	h, err := engine.Acquire("1")
	require.NoError(t, err)

	_, err = engine.Acquire("1")
	assert.ErrorIs(t, err, ErrUserBusy)

	other, err := engine.Acquire("2")
	require.NoError(t, err)
	other.Release()

	h.Release()
	h.Release()
	assert.False(t, engine.Held("1"))

	again, err := engine.Acquire("1")
	require.NoError(t, err)
	again.Release()
}

func TestHandleUnusableAfterRelease(t *testing.T) {
	engine := newTestEngine(t)
	h, err := engine.Acquire("1")
	require.NoError(t, err)
	require.NoError(t, h.Import(ImportBundle{UserID: "1", SchemaID: 9}))
	assert.True(t, h.ContainsUser())

	h.Release()
	assert.Zero(t, engine.Users())
	assert.ErrorIs(t, h.Import(ImportBundle{UserID: "1"}), ErrReleased)
	assert.ErrorIs(t, h.Apply(), ErrReleased)
	_, err = h.Export()
	assert.ErrorIs(t, err, ErrReleased)
	assert.False(t, h.ContainsUser())
}

func TestImportApplyExport(t *testing.T) {
	engine := newTestEngine(t)
	h, err := engine.Acquire("1")
	require.NoError(t, err)
	defer h.Release()

	stored, err := EncodePage(PageContent{Connections: []string{"2"}})
	require.NoError(t, err)

	require.NoError(t, h.Import(ImportBundle{
		UserID:   "1",
		SchemaID: 8,
		Pages:    []PageData{{PageID: 0, Content: stored, ContentHash: 77}},
	}))

	err = h.Apply(
		ConnectAction{OwnerUserID: "1", Connection: Connection{UserID: "3", SchemaID: 8}},
		ConnectAction{OwnerUserID: "1", Connection: Connection{UserID: "4", SchemaID: 9}},
	)
	require.NoError(t, err)

	updates, err := h.Export()
	require.NoError(t, err)
	require.Len(t, updates, 2)

	assert.Equal(t, UpdatePersistPage, updates[0].Type)
	assert.Equal(t, SchemaID(8), updates[0].SchemaID)
	assert.Equal(t, PageID(0), updates[0].PageID)
	assert.Equal(t, uint32(77), updates[0].PrevHash)
	content, err := DecodePage(updates[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, content.Connections)

	assert.Equal(t, SchemaID(9), updates[1].SchemaID)
	assert.Zero(t, updates[1].PrevHash)
}

func TestApplyExistingEdge(t *testing.T) {
	engine := newTestEngine(t)
	h, err := engine.Acquire("1")
	require.NoError(t, err)
	defer h.Release()

	require.NoError(t, h.Import(ImportBundle{UserID: "1", SchemaID: 9}))
	action := ConnectAction{OwnerUserID: "1", Connection: Connection{UserID: "2", SchemaID: 8}}
	require.NoError(t, h.Apply(action))

	err = h.Apply(action, ConnectAction{OwnerUserID: "1", Connection: Connection{UserID: "3", SchemaID: 8}})
	require.Error(t, err)
	assert.True(t, IsAlreadyExists(err))
	assert.Contains(t, err.Error(), "already exists")

	updates, err := h.Export()
	require.NoError(t, err)
	require.Len(t, updates, 1)
	content, err := DecodePage(updates[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, content.Connections)
}

func TestApplyRejects(t *testing.T) {
	engine := newTestEngine(t)
	h, err := engine.Acquire("1")
	require.NoError(t, err)
	defer h.Release()

	assert.Error(t, h.Apply(ConnectAction{OwnerUserID: "1", Connection: Connection{UserID: "2", SchemaID: 8}}),
		"apply before import")

	require.NoError(t, h.Import(ImportBundle{UserID: "1", SchemaID: 9}))

	err = h.Apply(ConnectAction{OwnerUserID: "2", Connection: Connection{UserID: "3", SchemaID: 8}})
	assert.Error(t, err)
	assert.False(t, IsAlreadyExists(err))

	err = h.Apply(ConnectAction{OwnerUserID: "1", Connection: Connection{UserID: "3", SchemaID: 99}})
	assert.Error(t, err)

	friend := ConnectAction{OwnerUserID: "1", Connection: Connection{UserID: "3", SchemaID: 10}}
	assert.Error(t, h.Apply(friend), "private friendship without peer keys")

	require.NoError(t, h.ImportPeerKeys(DsnpKeys{UserID: "3", Keys: []KeyData{{Index: 0, Content: []byte{1}}}}))
	assert.NoError(t, h.Apply(friend))
}

func TestImportRejectsBadKeyPair(t *testing.T) {
	engine := newTestEngine(t)
	h, err := engine.Acquire("1")
	require.NoError(t, err)
	defer h.Release()

	err = h.Import(ImportBundle{
		UserID:   "1",
		SchemaID: 9,
		KeyPairs: []KeyPair{{KeyType: types.KeyTypeX25519, PublicKey: []byte{1}, SecretKey: []byte{2}}},
	})
	assert.Error(t, err)
	assert.False(t, h.ContainsUser())
}

func TestPagesSplitBySize(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGraphPageSizeBytes = 16
	engine, err := NewMemoryEngine(cfg)
	require.NoError(t, err)

	h, err := engine.Acquire("1")
	require.NoError(t, err)
	defer h.Release()
	require.NoError(t, h.Import(ImportBundle{UserID: "1", SchemaID: 8}))

	for _, peer := range []string{"100", "101", "102", "103", "104", "105"} {
		require.NoError(t, h.Apply(ConnectAction{OwnerUserID: "1", Connection: Connection{UserID: peer, SchemaID: 8}}))
	}

	updates, err := h.Export()
	require.NoError(t, err)
	require.Greater(t, len(updates), 1)

	var all []string
	for i, u := range updates {
		assert.Equal(t, PageID(i), u.PageID)
		assert.LessOrEqual(t, len(u.Payload), 16)
		content, err := DecodePage(u.Payload)
		require.NoError(t, err)
		all = append(all, content.Connections...)
	}
	assert.Equal(t, []string{"100", "101", "102", "103", "104", "105"}, all)
}

func TestPersistPages(t *testing.T) {
	updates := []Update{
		{Type: UpdateAddKey},
		{Type: UpdatePersistPage, PageID: 1},
		{Type: UpdateDeletePage},
		{Type: UpdatePersistPage, PageID: 2},
	}
	got := PersistPages(updates)
	require.Len(t, got, 2)
	assert.Equal(t, PageID(1), got[0].PageID)
	assert.Equal(t, PageID(2), got[1].PageID)
}
