package graph

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/reconnect/pkg/codec"
	"github.com/cuemby/reconnect/pkg/log"
	"github.com/cuemby/reconnect/pkg/types"
)

// PageContent is the encoded content of a graph page
type PageContent struct {
	Connections []string `cbor:"1,keyasint"`
}

// EncodePage encodes a page payload: CBOR content, compressed when that
// makes it smaller
func EncodePage(content PageContent) ([]byte, error) {
	data, err := codec.Marshal(content)
	if err != nil {
		return nil, err
	}
	return codec.Compress(data), nil
}

// DecodePage decodes a page payload. An empty payload is an empty page.
func DecodePage(payload []byte) (PageContent, error) {
	var content PageContent
	if len(payload) == 0 {
		return content, nil
	}
	data, err := codec.Decompress(payload)
	if err != nil {
		return content, fmt.Errorf("invalid page payload: %w", err)
	}
	if err := codec.Unmarshal(data, &content); err != nil {
		return content, fmt.Errorf("invalid page payload: %w", err)
	}
	return content, nil
}

type page struct {
	id          PageID
	connections []string
	hash        uint32
	dirty       bool
}

type userGraph struct {
	pages    map[SchemaID][]*page
	keys     *DsnpKeys
	keyPairs []KeyPair
}

func (g *userGraph) has(schema SchemaID, peer string) bool {
	for _, p := range g.pages[schema] {
		if slices.Contains(p.connections, peer) {
			return true
		}
	}
	return false
}

// MemoryEngine is an in-process Engine
type MemoryEngine struct {
	cfg     Config
	schemas *SchemaTable
	logger  zerolog.Logger

	mu    sync.Mutex
	held  map[string]bool
	users map[string]*userGraph
}

// NewMemoryEngine creates an engine for cfg
func NewMemoryEngine(cfg Config) (*MemoryEngine, error) {
	schemas, err := NewSchemaTable(cfg)
	if err != nil {
		return nil, err
	}
	return &MemoryEngine{
		cfg:     cfg,
		schemas: schemas,
		logger:  log.WithComponent("graph"),
		held:    make(map[string]bool),
		users:   make(map[string]*userGraph),
	}, nil
}

// Acquire takes exclusive ownership of a user's state
func (e *MemoryEngine) Acquire(userID string) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.held[userID] {
		return nil, fmt.Errorf("%w: %s", ErrUserBusy, userID)
	}
	e.held[userID] = true
	return &memoryHandle{engine: e, userID: userID, peerKeys: make(map[string]DsnpKeys)}, nil
}

// Held reports whether a handle for the user is outstanding
func (e *MemoryEngine) Held(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held[userID]
}

// Users returns the number of users with state in the engine
func (e *MemoryEngine) Users() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.users)
}

type memoryHandle struct {
	engine   *MemoryEngine
	userID   string
	peerKeys map[string]DsnpKeys

	mu       sync.Mutex
	released bool
}

func (h *memoryHandle) UserID() string { return h.userID }

// lock returns with h.mu held, or ErrReleased
func (h *memoryHandle) lock() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return ErrReleased
	}
	return nil
}

func (h *memoryHandle) Import(bundles ...ImportBundle) error {
	if err := h.lock(); err != nil {
		return err
	}
	defer h.mu.Unlock()

	graph := &userGraph{pages: make(map[SchemaID][]*page)}
	for _, bundle := range bundles {
		if bundle.UserID != h.userID {
			return fmt.Errorf("bundle for user %s imported through handle of %s", bundle.UserID, h.userID)
		}
		if _, ok := h.engine.schemas.Lookup(bundle.SchemaID); !ok && len(bundle.Pages) > 0 {
			return fmt.Errorf("unknown schema %d", bundle.SchemaID)
		}
		for _, kp := range bundle.KeyPairs {
			if err := kp.Validate(); err != nil {
				return fmt.Errorf("invalid key pair for user %s: %w", h.userID, err)
			}
		}
		if bundle.DsnpKeys != nil {
			graph.keys = bundle.DsnpKeys
		}
		if len(bundle.KeyPairs) > 0 {
			graph.keyPairs = bundle.KeyPairs
		}

		for _, data := range bundle.Pages {
			content, err := DecodePage(data.Content)
			if err != nil {
				return fmt.Errorf("schema %d page %d: %w", bundle.SchemaID, data.PageID, err)
			}
			graph.pages[bundle.SchemaID] = append(graph.pages[bundle.SchemaID], &page{
				id:          data.PageID,
				connections: content.Connections,
				hash:        data.ContentHash,
			})
		}
	}
	for _, pages := range graph.pages {
		sort.Slice(pages, func(i, j int) bool { return pages[i].id < pages[j].id })
	}

	h.engine.mu.Lock()
	h.engine.users[h.userID] = graph
	h.engine.mu.Unlock()
	return nil
}

func (h *memoryHandle) ImportPeerKeys(keys ...DsnpKeys) error {
	if err := h.lock(); err != nil {
		return err
	}
	defer h.mu.Unlock()

	for _, k := range keys {
		h.peerKeys[k.UserID] = k
	}
	return nil
}

func (h *memoryHandle) Apply(actions ...ConnectAction) error {
	if err := h.lock(); err != nil {
		return err
	}
	defer h.mu.Unlock()

	h.engine.mu.Lock()
	graph, ok := h.engine.users[h.userID]
	h.engine.mu.Unlock()
	if !ok {
		return fmt.Errorf("user %s has not been imported", h.userID)
	}

	var existing []ConnectAction
	for _, action := range actions {
		if action.OwnerUserID != h.userID {
			return fmt.Errorf("action for user %s applied through handle of %s", action.OwnerUserID, h.userID)
		}
		schemaID := action.Connection.SchemaID
		schema, ok := h.engine.schemas.Lookup(schemaID)
		if !ok {
			return fmt.Errorf("unknown schema %d", schemaID)
		}
		if schema.ConnectionType == types.ConnectionTypeFriendship && schema.PrivacyType == types.PrivacyTypePrivate {
			if peer, ok := h.peerKeys[action.Connection.UserID]; !ok || len(peer.Keys) == 0 {
				return fmt.Errorf("no public keys imported for peer %s", action.Connection.UserID)
			}
		}
		if graph.has(schemaID, action.Connection.UserID) {
			existing = append(existing, action)
			continue
		}
		if err := h.add(graph, schemaID, action.Connection.UserID); err != nil {
			return err
		}
	}

	if len(existing) > 0 {
		return &ApplyError{Existing: existing}
	}
	return nil
}

// add places peer on the last page of the schema, opening a new page when
// the encoded page would exceed the configured size
func (h *memoryHandle) add(graph *userGraph, schemaID SchemaID, peer string) error {
	pages := graph.pages[schemaID]
	if n := len(pages); n > 0 {
		last := pages[n-1]
		candidate := append(slices.Clone(last.connections), peer)
		payload, err := EncodePage(PageContent{Connections: candidate})
		if err != nil {
			return err
		}
		if len(payload) <= h.engine.cfg.MaxGraphPageSizeBytes {
			last.connections = candidate
			last.dirty = true
			return nil
		}
	}

	var next PageID
	if n := len(pages); n > 0 {
		next = pages[n-1].id + 1
	}
	if next > h.engine.cfg.MaxPageID {
		return fmt.Errorf("schema %d of user %s is full", schemaID, h.userID)
	}
	graph.pages[schemaID] = append(pages, &page{id: next, connections: []string{peer}, dirty: true})
	return nil
}

func (h *memoryHandle) Export() ([]Update, error) {
	if err := h.lock(); err != nil {
		return nil, err
	}
	defer h.mu.Unlock()

	h.engine.mu.Lock()
	graph, ok := h.engine.users[h.userID]
	h.engine.mu.Unlock()
	if !ok {
		return nil, nil
	}

	schemaIDs := make([]SchemaID, 0, len(graph.pages))
	for id := range graph.pages {
		schemaIDs = append(schemaIDs, id)
	}
	slices.Sort(schemaIDs)

	var updates []Update
	for _, schemaID := range schemaIDs {
		for _, p := range graph.pages[schemaID] {
			if !p.dirty {
				continue
			}
			payload, err := EncodePage(PageContent{Connections: p.connections})
			if err != nil {
				return nil, err
			}
			updates = append(updates, Update{
				Type:        UpdatePersistPage,
				OwnerUserID: h.userID,
				SchemaID:    schemaID,
				PageID:      p.id,
				PrevHash:    p.hash,
				Payload:     payload,
			})
		}
	}
	return updates, nil
}

func (h *memoryHandle) ContainsUser() bool {
	if err := h.lock(); err != nil {
		return false
	}
	defer h.mu.Unlock()

	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	_, ok := h.engine.users[h.userID]
	return ok
}

func (h *memoryHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.peerKeys = nil

	h.engine.mu.Lock()
	delete(h.engine.users, h.userID)
	delete(h.engine.held, h.userID)
	h.engine.mu.Unlock()

	h.engine.logger.Debug().Str("user_id", h.userID).Msg("released user graph")
}

// IsAlreadyExists reports whether err only signals existing edges
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
