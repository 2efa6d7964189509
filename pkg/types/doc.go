/*
Package types defines the data model shared by every part of reconnect.

The types here describe what flows between the job queue, the provider and
the reconciliation pipeline. Types owned by an external collaborator live
with that collaborator instead: graph-engine bundles, actions and updates are
in package graph, ledger calls and events in package ledger.

# Jobs

ReconciliationJob is the unit of work. Its identity is the (user, provider)
pair returned by Key:

	job := types.NewJob("42", "1", true)
	job.Key() // "42:1"

The queue deduplicates on this key, so at most one job per pair is pending
or running. A job created by peer fan-out always has Transitive set to
false, which caps fan-out at a single hop.

# Provider data

ProviderConnection and ProviderKeyPair mirror the provider's JSON. Enum
fields accept any casing on decode, and Direction keeps the provider's own
spelling (connectionTo, connectionFrom, bidirectional).

# Capacity

CapacityMap collects the capacity withdrawn by every batch of a job, keyed
by capacity epoch. Batches that land in the same epoch are summed.
*/
package types
