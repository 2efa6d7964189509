/*
Package reconciler brings a user's social graph on the ledger in line with
what a provider reports for them.

# Pipeline

One reconciliation walks the user through a fixed sequence of steps:

	┌──────────┐   ┌────────────┐   ┌──────────┐   ┌────────┐   ┌──────────┐   ┌──────────┐
	│  Fetch   │──▶│   Import   │──▶│  Derive  │──▶│ Export │──▶│  Submit  │──▶│  Verify  │
	│ provider │   │ ledger     │   │ + Apply  │   │ pages  │   │ batches  │   │ re-import│
	└──────────┘   └────────────┘   └──────────┘   └────────┘   └──────────┘   └──────────┘

The user's engine state is acquired before Import and released when
Reconcile returns, whatever the outcome. Connections that already exist in
the graph are not an error, so running the same job twice is harmless.

# Failure policy

Reconcile reports failures as *Error carrying a Kind. HandleJob is the
queue handler and reacts to the kind:

  - KindStaleHash: the page changed under us; a non-transitive run is
    queued and the attempt counts as a success
  - KindCapacityLow: the queue is paused until an operator resumes it
  - KindProviderUnreachable, KindProviderShape, KindUnknownSubmission: a
    graph.error event is published and, for transitive jobs, a
    non-transitive run is queued
  - KindUserBusy: the job is queued again

Every other kind fails the attempt and is left to the queue's retry budget.

# Usage

	r := reconciler.New(reconciler.Options{
		Fetcher:   provider.NewFetcher(providerCfg, broker),
		Bundles:   builder,
		Deriver:   deriver.New(client, schemas, builder, q, 8),
		Engine:    engine,
		Submitter: submitter.New(client, account, broker),
		Queue:     q,
		Publisher: broker,
	})
	q.Start(ctx, r.HandleJob)
*/
package reconciler
