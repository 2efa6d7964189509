// Package deriver turns a provider's view of a user's connections into
// graph engine Connect actions.
//
// Every action is gated on the user's delegation: a connection whose schema
// the user has not granted to the provider is skipped entirely. Outgoing
// connections (connectionTo, bidirectional) become Connect actions owned by
// the user. Incoming connections (connectionFrom, bidirectional) of a
// transitive job enqueue a non-transitive job for the peer, if the peer
// delegated the same schema, so fan-out stops after one hop.
package deriver
