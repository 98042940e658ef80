package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyBatch is returned when ExecuteBatch is called with no
	// transactions.
	ErrEmptyBatch = errors.New("engine: batch contains no transactions")

	// ErrInvalidConfig is returned when Config is missing a required
	// field, e.g. NumThreads < 1 or VerifySignatures is set without a
	// Verify function.
	ErrInvalidConfig = errors.New("engine: invalid config")
)

// InvariantViolation marks a programmer-bug condition in the scheduler or
// MVS — a state transition the design proves cannot happen. Per §7 these
// are never returned as errors; they panic and the embedder decides
// whether to recover.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string {
	return "engine: invariant violation: " + e.Msg
}

func invariantf(format string, args ...interface{}) {
	panic(&InvariantViolation{Msg: fmt.Sprintf(format, args...)})
}
