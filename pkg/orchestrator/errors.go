package orchestrator

import (
	"errors"
	"fmt"

	"rework/pkg/edit"
)

var (
	// ErrLoopBudgetExceeded ends an autonomous turn whose model invocations
	// all returned tool calls until MaxToolIterations was spent.
	ErrLoopBudgetExceeded = errors.New("tool loop budget exceeded")

	// ErrRetriesExhausted wraps the last MalformedEdit once MaxEditRetries
	// re-invocations failed to produce a usable edit.
	ErrRetriesExhausted = errors.New("edit retries exhausted")

	// ErrCancelled is reported for a turn stopped by Session.Cancel.
	ErrCancelled = errors.New("turn cancelled")

	// ErrInvalidTransition is returned when the state machine is asked for a
	// transition its table does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNoVCS is returned by commands that need version control when the
	// session has none.
	ErrNoVCS = errors.New("version control is not available")

	// ErrNoStore is returned by Save and Load when persistence is disabled.
	ErrNoStore = errors.New("session persistence is disabled")
)

// RetriesExhaustedError carries the attempt count and the final parse failure.
type RetriesExhaustedError struct {
	Last     *edit.MalformedEdit
	Attempts int
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrRetriesExhausted, e.Attempts, e.Last)
}

// Unwrap exposes both the sentinel and the MalformedEdit to errors.Is/As.
func (e *RetriesExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}
