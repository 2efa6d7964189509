package ledger

import (
	"context"
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/cuemby/reconnect/pkg/graph"
)

// Page is one page of a user's paginated storage
type Page struct {
	UserID      string
	SchemaID    graph.SchemaID
	PageID      graph.PageID
	ContentHash uint32
	Payload     []byte
}

// Item is one entry of itemized storage
type Item struct {
	Index   uint16
	Payload []byte
}

// ItemizedPage is a user's itemized storage for one schema
type ItemizedPage struct {
	UserID      string
	SchemaID    graph.SchemaID
	ContentHash uint32
	Items       []Item
}

// Call is a single upsertPage call inside a capacity batch
type Call struct {
	UserID   string
	SchemaID graph.SchemaID
	PageID   graph.PageID
	PrevHash uint32
	Payload  []byte
}

// UpsertPageCall builds the ledger call persisting an exported page
func UpsertPageCall(u graph.Update) Call {
	return Call{
		UserID:   u.OwnerUserID,
		SchemaID: u.SchemaID,
		PageID:   u.PageID,
		PrevHash: u.PrevHash,
		Payload:  u.Payload,
	}
}

// BatchEvent is the utility pallet event observed for a submitted batch
type BatchEvent string

const (
	EventNone             BatchEvent = ""
	EventBatchCompleted   BatchEvent = "utility.BatchCompleted"
	EventBatchInterrupted BatchEvent = "utility.BatchInterrupted"
)

// BatchResult is what the ledger reported for a submitted batch
type BatchResult struct {
	Event             BatchEvent
	Block             uint64
	CapacityWithdrawn uint64
}

// DelegationChange records a delegation granted to a provider
type DelegationChange struct {
	Block      uint64
	UserID     string
	ProviderID string
	SchemaIDs  []graph.SchemaID
}

// Account is the provider account signing capacity batches
type Account struct {
	ID   string
	seed []byte
}

// NewAccount derives the signing account from a seed phrase. The phrase is
// kept opaque.
func NewAccount(seedPhrase string) Account {
	key := make([]byte, 32)
	blake3.DeriveKey("reconnect provider account v1", []byte(seedPhrase), key)
	return Account{ID: "0x" + hex.EncodeToString(key[:16]), seed: key}
}

// Client is the ledger as the reconciliation pipeline consumes it.
// SubmitCapacityBatch returns errors as *SubmitError.
type Client interface {
	PaginatedStorage(ctx context.Context, userID string, schemaID graph.SchemaID) ([]Page, error)
	ItemizedStorage(ctx context.Context, userID string, schemaID graph.SchemaID) (*ItemizedPage, error)

	// GrantedSchemaIDs returns the schemas userID delegated to providerID,
	// or nil when there is no delegation
	GrantedSchemaIDs(ctx context.Context, userID, providerID string) ([]graph.SchemaID, error)

	CapacityBatchLimit() int
	CurrentCapacityEpoch(ctx context.Context) (uint32, error)
	SubmitCapacityBatch(ctx context.Context, account Account, calls []Call) (*BatchResult, error)

	LatestBlock(ctx context.Context) (uint64, error)

	// DelegationChanges returns delegations granted in blocks [from, to]
	DelegationChanges(ctx context.Context, from, to uint64) ([]DelegationChange, error)
}

// ContentHash is the hash the ledger stores alongside a page
func ContentHash(payload []byte) uint32 {
	sum := blake3.Sum256(payload)
	return binary.LittleEndian.Uint32(sum[:4])
}

func itemsHash(items []Item) uint32 {
	h := blake3.New()
	var index [2]byte
	for _, item := range items {
		binary.LittleEndian.PutUint16(index[:], item.Index)
		h.Write(index[:])
		h.Write(item.Payload)
	}
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint32(sum[:4])
}
