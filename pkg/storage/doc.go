/*
Package storage persists the job queue in a local BoltDB file.

The queue keeps its whole state in two buckets:

	jobs   job id -> CBOR encoded types.JobRecord
	meta   name   -> raw bytes (queue pause flag, scanner cursor)

Job ids are the (user, provider) dedup key, so PutJob on an existing id is
the replace-on-resubmit the queue relies on. Every record gets a sequence
number from the bucket on first write, and ListJobs returns records in that
order, which is the queue's FIFO order.

BoltDB allows a single writer; all writes here are short transactions and
the queue serialises its own state changes behind a mutex, so contention
is not a concern at the job rates this service sees.
*/
package storage
