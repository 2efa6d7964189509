/*
Package scanner finds users who delegated to our provider since the last
scan and queues a transitive reconciliation for each of them.

The last fully scanned block is persisted, so a restart picks up where the
previous process stopped. A scan stops early when the queue holds
HighWater pending jobs; the next scan resumes from the first unread chunk.
*/
package scanner
