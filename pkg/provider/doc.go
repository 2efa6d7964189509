// Package provider talks to the provider's webhook API.
//
// Fetcher pages through GET {base}/connections/{userId}. A failed request
// is retried on the same page after RetryInterval; the failure counter
// resets on every successful page, so only FailureThreshold consecutive
// failures make a fetch fail. When that happens a provider.unreachable event
// is published and an *UnreachableError returned, classified by cause.
// Responses for the wrong user, or without a connections object, fail
// immediately with a *ShapeError.
//
// Monitor reacts to provider.unreachable by pausing the job queue and
// probing GET {base}/health until the provider answers SuccessThreshold
// times in a row, then resumes the queue.
package provider
