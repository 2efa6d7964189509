package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/reconnect/pkg/graph"
	"github.com/cuemby/reconnect/pkg/log"
)

const (
	// DefaultBatchLimit mirrors frequencyTxPayment.maximumCapacityBatchLength
	DefaultBatchLimit = 10

	// DefaultCallCost is the capacity charged per call in a batch
	DefaultCallCost = 1_000_000
)

// SubmitHook lets tests intercept batch submission. Returning a nil result
// and a nil error falls through to normal processing.
type SubmitHook func(calls []Call) (*BatchResult, error)

type storedPage struct {
	payload []byte
	hash    uint32
}

type pageKey struct {
	userID   string
	schemaID graph.SchemaID
	pageID   graph.PageID
}

type grantKey struct {
	userID     string
	providerID string
}

// MemoryLedger is an in-process ledger
type MemoryLedger struct {
	logger zerolog.Logger

	mu          sync.Mutex
	block       uint64
	epoch       uint32
	capacity    uint64
	allowance   uint64
	callCost    uint64
	batchLimit  int
	pages       map[pageKey]*storedPage
	items       map[string]map[graph.SchemaID][]Item
	grants      map[grantKey][]graph.SchemaID
	delegations []DelegationChange
	hook        SubmitHook
}

// NewMemoryLedger creates an empty ledger. capacity is the provider's
// allowance per epoch.
func NewMemoryLedger(capacity uint64) *MemoryLedger {
	return &MemoryLedger{
		logger:     log.WithComponent("ledger"),
		epoch:      1,
		capacity:   capacity,
		allowance:  capacity,
		callCost:   DefaultCallCost,
		batchLimit: DefaultBatchLimit,
		pages:      make(map[pageKey]*storedPage),
		items:      make(map[string]map[graph.SchemaID][]Item),
		grants:     make(map[grantKey][]graph.SchemaID),
	}
}

// SetBatchLimit changes the capacity batch limit
func (l *MemoryLedger) SetBatchLimit(limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batchLimit = limit
}

// SetCallCost changes the capacity charged per call
func (l *MemoryLedger) SetCallCost(cost uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callCost = cost
}

// SetSubmitHook installs a submission hook
func (l *MemoryLedger) SetSubmitHook(hook SubmitHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = hook
}

// AdvanceEpoch starts a new capacity epoch and restores the allowance
func (l *MemoryLedger) AdvanceEpoch() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epoch++
	l.capacity = l.allowance
	return l.epoch
}

// Capacity returns the capacity left in the current epoch
func (l *MemoryLedger) Capacity() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity
}

// SetPage stores a page directly, bypassing capacity
func (l *MemoryLedger) SetPage(userID string, schemaID graph.SchemaID, pageID graph.PageID, payload []byte) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	hash := ContentHash(payload)
	l.pages[pageKey{userID, schemaID, pageID}] = &storedPage{payload: slices.Clone(payload), hash: hash}
	return hash
}

// Page returns a stored page
func (l *MemoryLedger) Page(userID string, schemaID graph.SchemaID, pageID graph.PageID) (Page, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pages[pageKey{userID, schemaID, pageID}]
	if !ok {
		return Page{}, false
	}
	return Page{UserID: userID, SchemaID: schemaID, PageID: pageID, ContentHash: p.hash, Payload: slices.Clone(p.payload)}, true
}

// AddItem appends an itemized entry, such as a graph public key
func (l *MemoryLedger) AddItem(userID string, schemaID graph.SchemaID, payload []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.items[userID] == nil {
		l.items[userID] = make(map[graph.SchemaID][]Item)
	}
	existing := l.items[userID][schemaID]
	l.items[userID][schemaID] = append(existing, Item{Index: uint16(len(existing)), Payload: slices.Clone(payload)})
}

// Grant delegates schemas of userID to providerID in a new block
func (l *MemoryLedger) Grant(userID, providerID string, schemaIDs ...graph.SchemaID) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.block++
	key := grantKey{userID, providerID}
	for _, id := range schemaIDs {
		if !slices.Contains(l.grants[key], id) {
			l.grants[key] = append(l.grants[key], id)
		}
	}
	l.delegations = append(l.delegations, DelegationChange{
		Block:      l.block,
		UserID:     userID,
		ProviderID: providerID,
		SchemaIDs:  slices.Clone(schemaIDs),
	})
	return l.block
}

func (l *MemoryLedger) PaginatedStorage(ctx context.Context, userID string, schemaID graph.SchemaID) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var pages []Page
	for key, p := range l.pages {
		if key.userID != userID || key.schemaID != schemaID {
			continue
		}
		pages = append(pages, Page{
			UserID:      userID,
			SchemaID:    schemaID,
			PageID:      key.pageID,
			ContentHash: p.hash,
			Payload:     slices.Clone(p.payload),
		})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageID < pages[j].PageID })
	return pages, nil
}

func (l *MemoryLedger) ItemizedStorage(ctx context.Context, userID string, schemaID graph.SchemaID) (*ItemizedPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	items := slices.Clone(l.items[userID][schemaID])
	return &ItemizedPage{
		UserID:      userID,
		SchemaID:    schemaID,
		ContentHash: itemsHash(items),
		Items:       items,
	}, nil
}

func (l *MemoryLedger) GrantedSchemaIDs(ctx context.Context, userID, providerID string) ([]graph.SchemaID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.grants[grantKey{userID, providerID}]), nil
}

func (l *MemoryLedger) CapacityBatchLimit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.batchLimit
}

func (l *MemoryLedger) CurrentCapacityEpoch(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch, nil
}

func (l *MemoryLedger) LatestBlock(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.block, nil
}

func (l *MemoryLedger) DelegationChanges(ctx context.Context, from, to uint64) ([]DelegationChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if from > to {
		return nil, fmt.Errorf("invalid block range %d..%d", from, to)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []DelegationChange
	for _, change := range l.delegations {
		if change.Block >= from && change.Block <= to {
			out = append(out, change)
		}
	}
	return out, nil
}

// SubmitCapacityBatch applies every call or none of them
func (l *MemoryLedger) SubmitCapacityBatch(ctx context.Context, account Account, calls []Call) (*BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(err)
	}

	l.mu.Lock()
	hook := l.hook
	l.mu.Unlock()
	if hook != nil {
		result, err := hook(calls)
		if err != nil {
			return nil, Classify(err)
		}
		if result != nil {
			return result, nil
		}
	}

	result, err := l.apply(calls)
	if err != nil {
		l.logger.Debug().Err(err).Str("account", account.ID).Int("calls", len(calls)).Msg("batch rejected")
		return nil, Classify(err)
	}
	return result, nil
}

func (l *MemoryLedger) apply(calls []Call) (*BatchResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(calls) == 0 {
		return nil, errors.New("empty batch")
	}
	if len(calls) > l.batchLimit {
		return nil, fmt.Errorf("batch of %d calls exceeds limit %d", len(calls), l.batchLimit)
	}

	cost := uint64(len(calls)) * l.callCost
	if cost > l.capacity {
		return nil, errors.New("1010: Invalid Transaction: " + msgCapacityLow + " , e.g. account balance too low")
	}

	staged := make(map[pageKey]*storedPage, len(calls))
	for _, call := range calls {
		key := pageKey{call.UserID, call.SchemaID, call.PageID}
		current, ok := staged[key]
		if !ok {
			current = l.pages[key]
		}
		var currentHash uint32
		if current != nil {
			currentHash = current.hash
		}
		if call.PrevHash != currentHash {
			return nil, fmt.Errorf("Transaction is not valid due to %s", msgStaleHash)
		}
		staged[key] = &storedPage{payload: slices.Clone(call.Payload), hash: ContentHash(call.Payload)}
	}

	for key, p := range staged {
		l.pages[key] = p
	}
	l.capacity -= cost
	l.block++

	return &BatchResult{
		Event:             EventBatchCompleted,
		Block:             l.block,
		CapacityWithdrawn: cost,
	}, nil
}
