package graph

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/reconnect/pkg/types"
)

// EnvironmentType selects the schema configuration of a ledger network
type EnvironmentType string

const (
	EnvironmentMainnet EnvironmentType = "Mainnet"
	EnvironmentRococo  EnvironmentType = "Rococo"
	EnvironmentDev     EnvironmentType = "Dev"
)

// SchemaConfig describes what a schema stores
type SchemaConfig struct {
	DsnpVersion    string               `yaml:"dsnpVersion"`
	ConnectionType types.ConnectionType `yaml:"connectionType"`
	PrivacyType    types.PrivacyType    `yaml:"privacyType"`
}

// Config is the engine configuration of one environment
type Config struct {
	SchemaMap              map[SchemaID]SchemaConfig
	GraphPublicKeySchemaID SchemaID
	MaxPageID              PageID
	MaxGraphPageSizeBytes  int
}

// devConfig is the wire form of a Dev environment config. Map keys are
// strings in JSON.
type devConfig struct {
	SchemaMap              map[string]SchemaConfig `yaml:"schemaMap"`
	GraphPublicKeySchemaID SchemaID                `yaml:"graphPublicKeySchemaId"`
	MaxPageID              PageID                  `yaml:"maxPageId"`
	MaxGraphPageSizeBytes  int                     `yaml:"maxGraphPageSizeBytes"`
	DsnpVersions           []string                `yaml:"dsnpVersions"`
}

func networkConfig() Config {
	return Config{
		SchemaMap: map[SchemaID]SchemaConfig{
			8:  {DsnpVersion: "1.0", ConnectionType: types.ConnectionTypeFollow, PrivacyType: types.PrivacyTypePublic},
			9:  {DsnpVersion: "1.0", ConnectionType: types.ConnectionTypeFollow, PrivacyType: types.PrivacyTypePrivate},
			10: {DsnpVersion: "1.0", ConnectionType: types.ConnectionTypeFriendship, PrivacyType: types.PrivacyTypePrivate},
		},
		GraphPublicKeySchemaID: 7,
		MaxPageID:              16,
		MaxGraphPageSizeBytes:  1 << 11,
	}
}

// LoadConfig returns the configuration of env. Dev environments read it
// from devJSON, the other environments have it built in.
func LoadConfig(env EnvironmentType, devJSON string) (Config, error) {
	switch env {
	case EnvironmentMainnet, EnvironmentRococo:
		return networkConfig(), nil
	case EnvironmentDev:
		if devJSON == "" {
			return Config{}, fmt.Errorf("dev environment requires a graph config")
		}
		return ParseDevConfig([]byte(devJSON))
	default:
		return Config{}, fmt.Errorf("unknown graph environment %q", env)
	}
}

// ParseDevConfig parses a Dev environment config. The config is JSON, with
// comments and trailing commas allowed.
func ParseDevConfig(data []byte) (Config, error) {
	var raw devConfig
	if err := yaml.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return Config{}, fmt.Errorf("failed to parse graph config: %w", err)
	}

	cfg := Config{
		SchemaMap:              make(map[SchemaID]SchemaConfig, len(raw.SchemaMap)),
		GraphPublicKeySchemaID: raw.GraphPublicKeySchemaID,
		MaxPageID:              raw.MaxPageID,
		MaxGraphPageSizeBytes:  raw.MaxGraphPageSizeBytes,
	}
	for key, schema := range raw.SchemaMap {
		id, err := strconv.ParseUint(key, 10, 16)
		if err != nil {
			return Config{}, fmt.Errorf("invalid schema id %q: %w", key, err)
		}
		cfg.SchemaMap[SchemaID(id)] = schema
	}

	defaults := networkConfig()
	if cfg.MaxPageID == 0 {
		cfg.MaxPageID = defaults.MaxPageID
	}
	if cfg.MaxGraphPageSizeBytes == 0 {
		cfg.MaxGraphPageSizeBytes = defaults.MaxGraphPageSizeBytes
	}
	return cfg, nil
}

// SchemaTable resolves (connection type, privacy type) to schema ids. It is
// built once from a Config and never changes.
type SchemaTable struct {
	publicFollow      SchemaID
	privateFollow     SchemaID
	privateFriendship SchemaID
	publicKey         SchemaID
	schemas           map[SchemaID]SchemaConfig
}

// NewSchemaTable resolves the three graph schemas of cfg
func NewSchemaTable(cfg Config) (*SchemaTable, error) {
	t := &SchemaTable{
		publicKey: cfg.GraphPublicKeySchemaID,
		schemas:   make(map[SchemaID]SchemaConfig, len(cfg.SchemaMap)),
	}

	ids := make([]SchemaID, 0, len(cfg.SchemaMap))
	for id, schema := range cfg.SchemaMap {
		t.schemas[id] = schema
		ids = append(ids, id)
	}
	// lowest id wins when a pair is registered twice
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	for _, id := range ids {
		schema := cfg.SchemaMap[id]
		switch {
		case schema.ConnectionType == types.ConnectionTypeFollow && schema.PrivacyType == types.PrivacyTypePublic:
			t.publicFollow = id
		case schema.ConnectionType == types.ConnectionTypeFollow && schema.PrivacyType == types.PrivacyTypePrivate:
			t.privateFollow = id
		case schema.ConnectionType == types.ConnectionTypeFriendship && schema.PrivacyType == types.PrivacyTypePrivate:
			t.privateFriendship = id
		}
	}

	switch {
	case t.publicFollow == 0:
		return nil, fmt.Errorf("graph config has no public follow schema")
	case t.privateFollow == 0:
		return nil, fmt.Errorf("graph config has no private follow schema")
	case t.privateFriendship == 0:
		return nil, fmt.Errorf("graph config has no private friendship schema")
	}
	return t, nil
}

// Resolve returns the schema of a connection kind. Public friendships do
// not exist.
func (t *SchemaTable) Resolve(ct types.ConnectionType, pt types.PrivacyType) (SchemaID, bool) {
	switch {
	case ct == types.ConnectionTypeFollow && pt == types.PrivacyTypePublic:
		return t.publicFollow, true
	case ct == types.ConnectionTypeFollow && pt == types.PrivacyTypePrivate:
		return t.privateFollow, true
	case ct == types.ConnectionTypeFriendship && pt == types.PrivacyTypePrivate:
		return t.privateFriendship, true
	default:
		return 0, false
	}
}

func (t *SchemaTable) PublicFollow() SchemaID      { return t.publicFollow }
func (t *SchemaTable) PrivateFollow() SchemaID     { return t.privateFollow }
func (t *SchemaTable) PrivateFriendship() SchemaID { return t.privateFriendship }

// PublicKeySchema is the itemized schema holding users' graph public keys
func (t *SchemaTable) PublicKeySchema() SchemaID { return t.publicKey }

// GraphSchemas returns the paginated graph schemas in import order
func (t *SchemaTable) GraphSchemas() []SchemaID {
	return []SchemaID{t.publicFollow, t.privateFollow, t.privateFriendship}
}

// Lookup returns the configuration of a schema id
func (t *SchemaTable) Lookup(id SchemaID) (SchemaConfig, bool) {
	schema, ok := t.schemas[id]
	return schema, ok
}
