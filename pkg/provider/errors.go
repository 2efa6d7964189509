package provider

import (
	"fmt"
)

// FailureCause classifies a failed provider request
type FailureCause string

const (
	// CauseBadStatus is a response with an unexpected status code
	CauseBadStatus FailureCause = "bad_status"

	// CauseNoResponse is a request that got no response at all
	CauseNoResponse FailureCause = "no_response"

	// CauseOther is any other request failure
	CauseOther FailureCause = "other"
)

// UnreachableError is returned once the consecutive failure threshold is
// reached
type UnreachableError struct {
	Cause      FailureCause
	StatusCode int
	Failures   int
	Err        error
}

func (e *UnreachableError) Error() string {
	switch e.Cause {
	case CauseBadStatus:
		return fmt.Sprintf("bad response from provider webhook: %d %s", e.StatusCode, e.Err)
	case CauseNoResponse:
		return "no response from provider webhook: " + e.Err.Error()
	default:
		return "unknown error calling provider webhook: " + e.Err.Error()
	}
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// ShapeError is a provider response that does not match the request or
// lacks connections
type ShapeError struct {
	UserID string
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("invalid response from provider for %s: %s", e.UserID, e.Reason)
}
