package reconciler

import (
	"errors"
	"fmt"

	"github.com/cuemby/reconnect/pkg/bundle"
	"github.com/cuemby/reconnect/pkg/deriver"
	"github.com/cuemby/reconnect/pkg/graph"
	"github.com/cuemby/reconnect/pkg/ledger"
	"github.com/cuemby/reconnect/pkg/provider"
)

// ErrGraphInconsistency is returned when the engine lost the user after a
// successful submission
var ErrGraphInconsistency = errors.New("user graph missing after re-import")

// Kind classifies why a reconciliation failed
type Kind int

const (
	KindInternal Kind = iota
	KindProviderUnreachable
	KindProviderShape
	KindUnsupportedKeyType
	KindApplyActions
	KindGraphInconsistency
	KindCapacityLow
	KindStaleHash
	KindUnknownSubmission
	KindUnrecognizedDirection
	KindUserBusy
)

var kindNames = map[Kind]string{
	KindInternal:              "internal",
	KindProviderUnreachable:   "provider_unreachable",
	KindProviderShape:         "provider_shape",
	KindUnsupportedKeyType:    "unsupported_key_type",
	KindApplyActions:          "apply_actions",
	KindGraphInconsistency:    "graph_inconsistency",
	KindCapacityLow:           "capacity_low",
	KindStaleHash:             "stale_hash",
	KindUnknownSubmission:     "unknown_submission",
	KindUnrecognizedDirection: "unrecognized_direction",
	KindUserBusy:              "user_busy",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Stage is a step of the reconciliation pipeline
type Stage string

const (
	StageFetching   Stage = "fetching"
	StageImporting  Stage = "importing"
	StageDeriving   Stage = "deriving"
	StageExporting  Stage = "exporting"
	StageSubmitting Stage = "submitting"
	StageVerifying  Stage = "verifying"
)

// Error is a failed reconciliation
type Error struct {
	Kind   Kind
	Stage  Stage
	UserID string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reconciling %s failed while %s (%s): %v", e.UserID, e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(stage Stage, userID string, err error) *Error {
	return &Error{Kind: classify(stage, err), Stage: stage, UserID: userID, Err: err}
}

func classify(stage Stage, err error) Kind {
	var unreachable *provider.UnreachableError
	var shape *provider.ShapeError
	var submit *ledger.SubmitError

	switch {
	case errors.As(err, &unreachable):
		return KindProviderUnreachable
	case errors.As(err, &shape), errors.Is(err, bundle.ErrInvalidKeyPair):
		return KindProviderShape
	case errors.Is(err, bundle.ErrUnsupportedKeyType):
		return KindUnsupportedKeyType
	case errors.Is(err, deriver.ErrUnrecognizedDirection):
		return KindUnrecognizedDirection
	case errors.Is(err, graph.ErrUserBusy):
		return KindUserBusy
	case errors.Is(err, ErrGraphInconsistency):
		return KindGraphInconsistency
	case errors.As(err, &submit):
		switch submit.Kind {
		case ledger.KindCapacityLow:
			return KindCapacityLow
		case ledger.KindStaleHash:
			return KindStaleHash
		default:
			return KindUnknownSubmission
		}
	case stage == StageDeriving && errors.Is(err, errApply):
		return KindApplyActions
	default:
		return KindInternal
	}
}

// errApply marks engine apply failures
var errApply = errors.New("error applying actions")

// KindOf returns the kind of a reconciliation error, or KindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
