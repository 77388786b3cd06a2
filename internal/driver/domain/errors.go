package domain

import "errors"

var (
	// ErrDriverNotFound is returned when the driver profile does not exist.
	ErrDriverNotFound = errors.New("driver not found")

	// ErrDriverNotAvailable is returned when a claim or toggle requires an
	// online, unassigned driver.
	ErrDriverNotAvailable = errors.New("driver not available")

	// ErrDriverBusy is returned when going offline with an active delivery.
	ErrDriverBusy = errors.New("driver has an active delivery")

	// ErrInvalidCoordinates is returned for off-globe positions.
	ErrInvalidCoordinates = errors.New("invalid coordinates")

	// ErrLocationTooFrequent is returned when position updates exceed the
	// per-driver rate limit.
	ErrLocationTooFrequent = errors.New("location update rate limit exceeded")
)
