package domain

import "time"

// DriverStatus is the driver's availability state.
type DriverStatus string

const (
	DriverStatusOffline   DriverStatus = "OFFLINE"
	DriverStatusAvailable DriverStatus = "AVAILABLE"
	DriverStatusBusy      DriverStatus = "BUSY"
)

// Driver is the availability/assignment record for one driver. The driver
// owns the online toggle and position; current_order_id and the BUSY flip are
// written only by the dispatch engine on the driver's behalf.
type Driver struct {
	ID                  string       `json:"id" db:"id"`
	Name                string       `json:"name" db:"name"`
	Online              bool         `json:"online" db:"online"`
	Status              DriverStatus `json:"status" db:"status"`
	CurrentOrderID      *string      `json:"current_order_id,omitempty" db:"current_order_id"`
	LastLat             *float64     `json:"last_lat,omitempty" db:"last_lat"`
	LastLng             *float64     `json:"last_lng,omitempty" db:"last_lng"`
	LocationAt          *time.Time   `json:"location_at,omitempty" db:"location_at"`
	DeliveriesCompleted int          `json:"deliveries_completed" db:"deliveries_completed"`
	Rating              float64      `json:"rating" db:"rating"`
	CreatedAt           time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at" db:"updated_at"`
}

// CanClaim reports whether the driver may take on a delivery right now.
func (d *Driver) CanClaim() bool {
	return d.Online && d.Status == DriverStatusAvailable && d.CurrentOrderID == nil
}

// HasPosition reports whether a last known position exists.
func (d *Driver) HasPosition() bool {
	return d.LastLat != nil && d.LastLng != nil
}
