package domain

import "errors"

// Caller-visible outcomes. Each reflects a legitimate business-state
// conflict; none is retried by the core.
var (
	// ErrOrderNotFound is returned when the order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrAlreadyTerminal is returned for any write against a delivered or
	// cancelled order.
	ErrAlreadyTerminal = errors.New("order is in a terminal state")

	// ErrInvalidTransition is returned when the requested status is not the
	// legal next step in the order's flow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyClaimed is returned to a driver who lost the claim race.
	ErrAlreadyClaimed = errors.New("order already claimed by another driver")

	// ErrNotClaimable is returned when the order is not an unassigned
	// delivery order in a claimable status.
	ErrNotClaimable = errors.New("order is not claimable")

	// ErrPinMismatch is returned when the supplied handoff PIN is wrong.
	ErrPinMismatch = errors.New("pin mismatch")

	// ErrActorNotAllowed is returned when the actor role may not perform the
	// requested transition.
	ErrActorNotAllowed = errors.New("actor not allowed to perform this transition")

	// ErrTransitionConflict is returned when a concurrent writer changed the
	// order between read and write; the losing request must be rejected, not
	// merged.
	ErrTransitionConflict = errors.New("order changed concurrently")
)
