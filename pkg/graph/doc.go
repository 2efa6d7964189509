// Package graph is the boundary to the graph state engine.
//
// The engine holds per-user social graph state built from ledger pages.
// Reconciliation imports a user's pages, applies Connect actions, and
// exports PersistPage updates to write back. Access to a user's state goes
// through a Handle: Acquire fails with ErrUserBusy while another handle for
// the user is outstanding, and Release drops the state.
//
//	h, err := engine.Acquire(userID)
//	if err != nil {
//		return err
//	}
//	defer h.Release()
//
// SchemaTable maps (connection type, privacy type) to the schema ids of an
// environment. It is built once at startup and passed to every component
// that resolves schemas.
//
// MemoryEngine is the in-process engine. Page payloads are deterministic
// CBOR lists of peer user ids and pages are split by encoded size.
package graph
