package ledger

import (
	"errors"
	"strings"
)

// ErrorKind classifies a failed batch submission
type ErrorKind int

const (
	// KindUnknown is any failure not classified below. Not retryable.
	KindUnknown ErrorKind = iota

	// KindCapacityLow means the provider ran out of capacity
	KindCapacityLow

	// KindStaleHash means a page changed since it was read
	KindStaleHash
)

func (k ErrorKind) String() string {
	switch k {
	case KindCapacityLow:
		return "capacity_low"
	case KindStaleHash:
		return "stale_hash"
	default:
		return "unknown"
	}
}

const (
	msgCapacityLow = "Inability to pay some fees"
	msgStaleHash   = "Target page hash does not match current page hash"
)

// SubmitError is a classified submission failure
type SubmitError struct {
	Kind ErrorKind
	Err  error
}

func (e *SubmitError) Error() string {
	return "batch submission failed (" + e.Kind.String() + "): " + e.Err.Error()
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Classify maps a raw submission error to a *SubmitError. Errors that are
// already classified pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var se *SubmitError
	if errors.As(err, &se) {
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, msgCapacityLow):
		return &SubmitError{Kind: KindCapacityLow, Err: err}
	case strings.Contains(msg, msgStaleHash):
		return &SubmitError{Kind: KindStaleHash, Err: err}
	default:
		return &SubmitError{Kind: KindUnknown, Err: err}
	}
}

// KindOf returns the kind of a classified error, or KindUnknown
func KindOf(err error) ErrorKind {
	var se *SubmitError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}
