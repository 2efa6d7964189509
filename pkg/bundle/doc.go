// Package bundle builds graph engine import bundles from ledger state.
//
// A user's stored pages are read for the public follow, private follow and
// private friendship schemas, together with the graph public keys in the
// user's itemized storage. Each page becomes one bundle carrying the same
// keys and provider key pairs. A user without any pages still gets one
// bundle, under the private follow schema, so the engine creates an entry
// for them.
package bundle
