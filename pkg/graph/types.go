package graph

import (
	"github.com/cuemby/reconnect/pkg/types"
)

// SchemaID is a ledger registered graph page schema
type SchemaID uint16

// PageID identifies a page within a user's paginated storage for a schema
type PageID uint16

// PageData is one stored page as read from the ledger
type PageData struct {
	PageID      PageID
	Content     []byte
	ContentHash uint32
}

// KeyData is one published graph public key
type KeyData struct {
	Index   uint16
	Content []byte
}

// DsnpKeys are the graph public keys a user has published on the ledger
type DsnpKeys struct {
	UserID   string
	KeysHash uint32
	Keys     []KeyData
}

// KeyPair is a graph encryption key pair in raw form
type KeyPair struct {
	KeyType   types.KeyType
	PublicKey []byte
	SecretKey []byte
}

// ImportBundle carries the ledger state of one user into the engine. A
// bundle without pages only registers the user and its keys.
type ImportBundle struct {
	UserID   string
	SchemaID SchemaID
	Pages    []PageData
	DsnpKeys *DsnpKeys
	KeyPairs []KeyPair
}

// Connection is the target side of a graph edge
type Connection struct {
	UserID   string
	SchemaID SchemaID
}

// ConnectAction adds an edge owned by OwnerUserID
type ConnectAction struct {
	OwnerUserID string
	Connection  Connection
	DsnpKeys    *DsnpKeys
}

// UpdateType tags an exported update
type UpdateType string

const (
	// UpdatePersistPage overwrites one page, guarded by PrevHash
	UpdatePersistPage UpdateType = "PersistPage"

	// UpdateDeletePage removes one page
	UpdateDeletePage UpdateType = "DeletePage"

	// UpdateAddKey publishes a new graph public key
	UpdateAddKey UpdateType = "AddKey"
)

// Update is a change the engine wants written to the ledger
type Update struct {
	Type        UpdateType
	OwnerUserID string
	SchemaID    SchemaID
	PageID      PageID
	PrevHash    uint32
	Payload     []byte
}

// PersistPages filters updates down to PersistPage updates, keeping order
func PersistPages(updates []Update) []Update {
	out := make([]Update, 0, len(updates))
	for _, u := range updates {
		if u.Type == UpdatePersistPage {
			out = append(out, u)
		}
	}
	return out
}
