/*
Package api implements the admin HTTP API of the reconnection service.

The API exposes the job queue, the synchronous graph update and the ledger
scanner to operators and to the reconnect CLI:

	GET    /health               component health
	GET    /ready                readiness of ledger, queue and provider
	GET    /live                 liveness
	GET    /metrics              Prometheus metrics
	GET    /queue                job counts per status and the pause flag
	GET    /queue/{status}       jobs in one status
	GET    /queue/job/{id}       one job
	POST   /queue                enqueue a job
	POST   /queue/update         replace a job's data and retry it
	POST   /queue/pause          stop dispatching jobs
	POST   /queue/resume         restart dispatching
	POST   /queue/clear          remove every idle job and resume
	POST   /queue/job/{id}/retry retry a job
	DELETE /queue/job/{id}       remove a job
	POST   /update/graph         reconcile one user now
	POST   /scan                 scan new ledger blocks
	POST   /scan/{block}         rescan from a block

When a token is configured, every request other than GET, HEAD and OPTIONS
must carry it as a bearer token.
*/
package api
