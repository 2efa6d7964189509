package graph

import (
	"errors"
)

var (
	// ErrUserBusy is returned by Acquire when another job holds the user
	ErrUserBusy = errors.New("user graph is held by another job")

	// ErrReleased is returned by a handle used after Release
	ErrReleased = errors.New("graph handle released")

	// ErrAlreadyExists marks an action for an edge the graph already has
	ErrAlreadyExists = errors.New("connection already exists")
)

// Engine holds per-user graph state. Each user's state is reached through
// a Handle, and only one Handle per user exists at a time.
type Engine interface {
	Acquire(userID string) (Handle, error)
}

// Handle is exclusive access to one user's graph state. Release drops the
// state and must be called on every path once the handle is acquired.
type Handle interface {
	UserID() string

	// Import replaces the user's state with the given bundles
	Import(bundles ...ImportBundle) error

	// ImportPeerKeys makes peers' public keys available to Apply. They
	// live only as long as the handle.
	ImportPeerKeys(keys ...DsnpKeys) error

	// Apply adds edges. Edges that already exist are skipped and reported
	// with an error matching ErrAlreadyExists after the rest are applied.
	Apply(actions ...ConnectAction) error

	// Export returns the updates needed to persist pending changes
	Export() ([]Update, error)

	// ContainsUser reports whether the user has state in the engine
	ContainsUser() bool

	Release()
}

// ApplyError reports actions that could not be applied because the edge
// already exists
type ApplyError struct {
	Existing []ConnectAction
}

func (e *ApplyError) Error() string {
	if len(e.Existing) == 1 {
		a := e.Existing[0]
		return "connection from " + a.OwnerUserID + " to " + a.Connection.UserID + " already exists"
	}
	return "connections already exist"
}

func (e *ApplyError) Unwrap() error {
	return ErrAlreadyExists
}
