package common

import "errors"

var (
	// ErrNotFound is returned by Cancel when the order id is unknown; this
	// is idempotent at the interface layer, matching spec's CancelMiss.
	ErrNotFound = errors.New("order not found")

	// ErrNotOwner is returned when a cancel is attempted by a user who did
	// not submit the order.
	ErrNotOwner = errors.New("order not owned by caller")

	// ErrDuplicateOrderID signals a book invariant violation: the same id
	// was submitted twice. This should never happen given the kernel's
	// monotonic allocator; the kernel returns it to its caller as an
	// ordinary error.
	ErrDuplicateOrderID = errors.New("order id already present")

	// ErrInvalidVolume is returned when a submitted order's volume is not
	// strictly positive.
	ErrInvalidVolume = errors.New("volume must be positive")

	// ErrUnknownSecurity / ErrUnknownUser are OrderValidation failures
	// rejected at the kernel boundary.
	ErrUnknownSecurity = errors.New("unknown security")
	ErrUnknownUser     = errors.New("unknown user")

	// ErrSimulationFinished is raised by AdvanceTick past N.
	ErrSimulationFinished = errors.New("simulation finished")
)
