/*
Package ledger is the boundary to the permissioned ledger.

Client names the reads and writes the reconciliation pipeline needs:
paginated and itemized stateful storage, delegation grants, the capacity
batch limit and epoch, capacity batch submission, and delegation changes
for the scanner.

Submission failures are classified once, here, into a SubmitError with a
Kind:

  - KindCapacityLow: the provider cannot pay for the batch
  - KindStaleHash: a page's previous hash no longer matches the ledger
  - KindUnknown: anything else

MemoryLedger is the in-process ledger. Batches apply atomically, page
content hashes are the first four bytes of a BLAKE3 digest of the payload,
and every submitted call withdraws a fixed amount of capacity from the
current epoch. Fixture files (YAML) seed it for local runs.
*/
package ledger
