package ledger

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/reconnect/pkg/graph"
)

// Fixture seeds a MemoryLedger
type Fixture struct {
	Capacity   uint64         `yaml:"capacity"`
	BatchLimit int            `yaml:"batchLimit"`
	CallCost   uint64         `yaml:"callCost"`
	Grants     []FixtureGrant `yaml:"grants"`
	Keys       []FixtureKey   `yaml:"keys"`
	Pages      []FixturePage  `yaml:"pages"`
}

type FixtureGrant struct {
	User     string           `yaml:"user"`
	Provider string           `yaml:"provider"`
	Schemas  []graph.SchemaID `yaml:"schemas"`
}

type FixtureKey struct {
	User      string         `yaml:"user"`
	Schema    graph.SchemaID `yaml:"schema"`
	PublicKey string         `yaml:"publicKey"`
}

type FixturePage struct {
	User        string         `yaml:"user"`
	Schema      graph.SchemaID `yaml:"schema"`
	Page        graph.PageID   `yaml:"page"`
	Connections []string       `yaml:"connections"`
}

// LoadFixture reads a fixture file
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse ledger fixture: %w", err)
	}
	return &f, nil
}

// Seed writes the fixture into l
func (f *Fixture) Seed(l *MemoryLedger) error {
	if f.BatchLimit > 0 {
		l.SetBatchLimit(f.BatchLimit)
	}
	if f.CallCost > 0 {
		l.SetCallCost(f.CallCost)
	}
	for _, g := range f.Grants {
		l.Grant(g.User, g.Provider, g.Schemas...)
	}
	for _, k := range f.Keys {
		key, err := hex.DecodeString(strings.TrimPrefix(k.PublicKey, "0x"))
		if err != nil {
			return fmt.Errorf("invalid public key for user %s: %w", k.User, err)
		}
		l.AddItem(k.User, k.Schema, key)
	}
	for _, p := range f.Pages {
		payload, err := graph.EncodePage(graph.PageContent{Connections: p.Connections})
		if err != nil {
			return err
		}
		l.SetPage(p.User, p.Schema, p.Page, payload)
	}
	return nil
}

// Open returns the ledger client for endpoint. Only in-process ledgers
// (memory://) are available; fixturePath optionally seeds one.
func Open(endpoint, fixturePath string) (Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger endpoint: %w", err)
	}
	if u.Scheme != "memory" {
		return nil, fmt.Errorf("unsupported ledger endpoint %q", endpoint)
	}

	var fixture Fixture
	if fixturePath != "" {
		f, err := LoadFixture(fixturePath)
		if err != nil {
			return nil, err
		}
		fixture = *f
	}

	capacity := fixture.Capacity
	if capacity == 0 {
		capacity = 1000 * DefaultCallCost
	}
	l := NewMemoryLedger(capacity)
	if err := fixture.Seed(l); err != nil {
		return nil, err
	}
	return l, nil
}
