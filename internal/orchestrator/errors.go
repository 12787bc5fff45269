package orchestrator

import "errors"

var (
	// ErrValidation wraps a *validation.FieldError describing the rejected field.
	ErrValidation = errors.New("invalid scan request")
	// ErrQuotaExceeded is returned when the owner has used up the daily scan allowance.
	ErrQuotaExceeded = errors.New("daily scan quota exceeded")
	// ErrConcurrencyLimitExceeded is returned when the owner already has the maximum number of active scans.
	ErrConcurrencyLimitExceeded = errors.New("concurrent scan limit exceeded")
	// ErrNotFound is returned for unknown ids and for ids owned by someone else.
	ErrNotFound = errors.New("scan not found")
	// ErrInvalidState is returned when an operation does not apply to the scan's current status.
	ErrInvalidState = errors.New("operation not allowed in the current scan state")
	// ErrInvalidStateTransition is returned for any status change out of a terminal state.
	ErrInvalidStateTransition = errors.New("invalid scan state transition")
	// ErrShuttingDown is returned by CreateScan once Shutdown has been called.
	ErrShuttingDown = errors.New("orchestrator is shutting down")

	errUserCancelled = errors.New("cancelled by user")
	errShutdown      = errors.New("cancelled by shutdown")
)
