package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/tlsdata"
)

// ErrorKind classifies stage and run failures.
type ErrorKind string

const (
	// KindConfigInvalid: schema violation or contradictory settings.
	// Raised before any stage runs; terminates the run.
	KindConfigInvalid ErrorKind = "config_invalid"
	// KindDataUnavailable: the TLS catalogue is missing a requested zone,
	// suburb or property. Fatal to the stage that hit it.
	KindDataUnavailable ErrorKind = "data_unavailable"
	// KindNumericFailure: a solver failed (no IRR root, non-PD matrix, NaN).
	// Non-fatal; the affected metric is reported as null.
	KindNumericFailure ErrorKind = "numeric_failure"
	// KindCancelled: cooperative cancellation was observed.
	KindCancelled ErrorKind = "cancelled"
	// KindInternal: invariant violation / programmer error.
	KindInternal ErrorKind = "internal"
)

// ErrCancelled is the sentinel returned by stages that observe cancellation.
var ErrCancelled = errors.New("simulation cancelled")

// StageError wraps a failure with the stage that produced it.
type StageError struct {
	Stage string
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Classify maps an error to its kind. Cancellation wins over everything
// else that may have wrapped it.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		return KindConfigInvalid
	}
	var nf *tlsdata.NotFoundError
	if errors.As(err, &nf) {
		return KindDataUnavailable
	}
	return KindInternal
}

// IsCancelled reports whether err represents cooperative cancellation.
func IsCancelled(err error) bool {
	return Classify(err) == KindCancelled
}

// CheckCancelled is the cooperative cancellation checkpoint used between
// inner loops. It converts context cancellation into ErrCancelled.
func CheckCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
		return nil
	}
}
