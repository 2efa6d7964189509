/*
Package queue implements the durable reconciliation job queue.

Every job is stored under its (user, provider) key, so the queue holds at
most one record per pair. Resubmitting a pair replaces the stored data and
makes the record runnable again. If the pair is running at that moment the
record is flagged and runs once more after the current attempt ends, so the
same pair is never processed by two workers at once.

Job lifecycle:

	waiting ──claim──▶ active ──ok──▶ completed
	   ▲                 │
	   │                 ├──error, attempts left──▶ delayed ──due──▶ waiting
	   │                 └──error, no attempts────▶ failed
	   └──────────── Add / Retry ─────────────────────┘

Pause is the global backpressure valve. It is persisted, survives restarts,
and stops workers from claiming new jobs; jobs already active finish
normally. Each pause has an owner: the reconciler holds one when capacity
runs out and the provider monitor holds one while the provider is
unreachable. ResumeFor drops a single owner's pause and the queue stays
paused while any other owner remains. Resume is the operator override and
drops them all.

Workers are started with Start and stopped with Stop. Stop waits for
running handlers; they receive a context that is not cancelled by Stop.
*/
package queue
