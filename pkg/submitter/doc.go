// Package submitter writes a job's exported PersistPage updates to the
// ledger as capacity batches.
//
// Updates become upsertPage calls in export order and are cut into batches
// of at most the ledger's capacity batch limit. Each batch is one metered
// transaction whose BatchCompleted event reports the capacity withdrawn;
// the epoch is read from the ledger before the batch is sent. A missing or
// interrupted event fails the batch. Errors reach the caller as
// *ledger.SubmitError so the reconciler can tell capacity exhaustion and
// stale page hashes from everything else.
package submitter
