package execution

import (
	"errors"

	"github.com/navio-ai/navio/pkg/persistence"
)

var (
	// ErrWorkflowNotFound is returned when the target workflow does not exist.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

	// ErrExecutionNotFound is returned when the target execution does not exist.
	ErrExecutionNotFound = persistence.ErrExecutionNotFound

	// ErrNotReserved is returned by start when the execution is not in the
	// reserved state (already started, terminal or unknown).
	ErrNotReserved = errors.New("execution is not in reserved state")

	// ErrAlreadyTerminal is returned by cancel when the execution already
	// reached a terminal status.
	ErrAlreadyTerminal = errors.New("execution is already terminal")

	// ErrEmptyWorkflowID is returned on reserve with a blank workflow id.
	ErrEmptyWorkflowID = errors.New("workflow ID cannot be empty")

	// ErrEmptyExecutionID is returned on start/cancel with a blank execution id.
	ErrEmptyExecutionID = errors.New("execution ID cannot be empty")
)

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyWorkflowID) ||
		errors.Is(err, ErrEmptyExecutionID)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrNotReserved) ||
		errors.Is(err, ErrAlreadyTerminal) ||
		persistence.IsInvalidTransition(err)
}

// IsNotFoundError checks if an error should map to HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsWorkflowNotFound(err) ||
		persistence.IsExecutionNotFound(err)
}
