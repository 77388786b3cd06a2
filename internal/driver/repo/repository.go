package repo

import (
	"context"
	"time"

	"marketfleet/internal/driver/domain"
)

// DriverRepository is the driver availability store. Assign and Release are
// conditional writes mirroring the claim engine's invariants: a driver holds
// at most one active order, and completion is counted at most once.
type DriverRepository interface {
	FindByID(ctx context.Context, driverID string) (*domain.Driver, error)

	// Upsert registers the driver profile, keeping existing availability
	// state on conflict.
	Upsert(ctx context.Context, d *domain.Driver) error

	SetOnline(ctx context.Context, driverID string) error

	// SetOffline fails with domain.ErrDriverBusy while an order is assigned.
	SetOffline(ctx context.Context, driverID string) error

	UpdateLocation(ctx context.Context, driverID string, lat, lng float64, at time.Time) error

	// Assign flips an AVAILABLE driver to BUSY with the given order. Returns
	// domain.ErrDriverNotAvailable if the driver is no longer assignable.
	Assign(ctx context.Context, driverID, orderID string) error

	// Release clears the assignment, counting the delivery only when
	// completed is true; a cancelled order frees the driver without credit.
	// Idempotent: a repeat call for the same order is a no-op and reports
	// released=false.
	Release(ctx context.Context, driverID, orderID string, completed bool) (released bool, err error)
}
