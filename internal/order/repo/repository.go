package repo

import (
	"context"
	"time"

	"marketfleet/internal/order/domain"
)

// OrderRepository is the authoritative order store. AdvanceStatus and Claim
// are conditional writes: they re-check the precondition inside the same unit
// of work that mutates, so a stale caller loses cleanly.
type OrderRepository interface {
	Create(ctx context.Context, o *domain.Order) error
	FindByID(ctx context.Context, orderID string) (*domain.Order, error)

	// AdvanceStatus moves orderID from expected to next and stamps the
	// transition timestamp. Returns domain.ErrTransitionConflict if the
	// order is no longer in expected.
	AdvanceStatus(ctx context.Context, orderID string, expected, next domain.Status, at time.Time) error

	// Claim atomically assigns an unclaimed, claimable delivery order to a
	// driver and moves it to claimed. Exactly one of N concurrent calls for
	// the same order succeeds; the rest get domain.ErrAlreadyClaimed.
	Claim(ctx context.Context, orderID, driverID, driverName string, at time.Time) (*domain.Order, error)

	// UpdateDriverLocation mirrors the assigned driver's position onto the
	// active order.
	UpdateDriverLocation(ctx context.Context, orderID string, lat, lng float64) error

	// ListOpenByVendor returns the vendor's non-terminal orders, newest first.
	ListOpenByVendor(ctx context.Context, vendorID string) ([]domain.Order, error)

	// ListAvailable returns the available-order view: unassigned delivery
	// orders in a claimable status.
	ListAvailable(ctx context.Context) ([]domain.Order, error)

	// FindActiveByDriver returns the driver's current non-terminal order, or
	// domain.ErrOrderNotFound.
	FindActiveByDriver(ctx context.Context, driverID string) (*domain.Order, error)
}

// OrderCopy is one row of a denormalized per-party copy table.
type OrderCopy struct {
	OrderID     string         `json:"order_id" db:"order_id"`
	Code        string         `json:"code" db:"code"`
	Status      domain.Status  `json:"status" db:"status"`
	DriverID    *string        `json:"driver_id,omitempty" db:"driver_id"`
	DriverName  *string        `json:"driver_name,omitempty" db:"driver_name"`
	DriverLat   *float64       `json:"driver_lat,omitempty" db:"driver_lat"`
	DriverLng   *float64       `json:"driver_lng,omitempty" db:"driver_lng"`
	ConfirmedAt *time.Time     `json:"confirmed_at,omitempty" db:"confirmed_at"`
	PreparingAt *time.Time     `json:"preparing_at,omitempty" db:"preparing_at"`
	ReadyAt     *time.Time     `json:"ready_at,omitempty" db:"ready_at"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty" db:"claimed_at"`
	PickedUpAt  *time.Time     `json:"picked_up_at,omitempty" db:"picked_up_at"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty" db:"delivered_at"`
	CancelledAt *time.Time     `json:"cancelled_at,omitempty" db:"cancelled_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// ReplicaRepository owns the denormalized copies. Written only by the
// propagation service; read by the "my orders" listings.
type ReplicaRepository interface {
	UpsertVendorCopy(ctx context.Context, o *domain.Order) error
	UpsertCustomerCopy(ctx context.Context, o *domain.Order) error

	// RecordFailure durably logs a copy write that exhausted its retries.
	RecordFailure(ctx context.Context, orderID, target string, fields []string, lastErr string) error

	ListVendorCopies(ctx context.Context, vendorID string) ([]OrderCopy, error)
	ListCustomerCopies(ctx context.Context, customerID string) ([]OrderCopy, error)
}
