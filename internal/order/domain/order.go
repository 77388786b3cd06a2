package domain

import "time"

// FulfillmentType selects which status flow and which actors apply.
type FulfillmentType string

const (
	FulfillmentPickup   FulfillmentType = "pickup"
	FulfillmentDelivery FulfillmentType = "delivery"
)

// OrderItem is a line item, immutable after checkout.
type OrderItem struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Address is the delivery destination, present only for delivery orders.
type Address struct {
	Street    string  `json:"street"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Order is the authoritative record. Everything above the driver block is
// immutable after creation; the mutable fields move only through Advance and
// the dispatch claim.
type Order struct {
	ID              string          `json:"id" db:"id"`
	Code            string          `json:"code" db:"code"`
	CustomerID      string          `json:"customer_id" db:"customer_id"`
	VendorID        string          `json:"vendor_id" db:"vendor_id"`
	FulfillmentType FulfillmentType `json:"fulfillment_type" db:"fulfillment_type"`
	Items           []OrderItem     `json:"items" db:"items"`
	Subtotal        float64         `json:"subtotal" db:"subtotal"`
	DeliveryFee     float64         `json:"delivery_fee" db:"delivery_fee"`
	Tax             float64         `json:"tax" db:"tax"`
	Total           float64         `json:"total" db:"total"`
	DeliveryAddress *Address        `json:"delivery_address,omitempty" db:"delivery_address"`
	PickupLat       float64         `json:"pickup_lat" db:"pickup_lat"`
	PickupLng       float64         `json:"pickup_lng" db:"pickup_lng"`
	PIN             string          `json:"-" db:"pin"`

	Status     Status   `json:"status" db:"status"`
	DriverID   *string  `json:"driver_id,omitempty" db:"driver_id"`
	DriverName *string  `json:"driver_name,omitempty" db:"driver_name"`
	DriverLat  *float64 `json:"driver_lat,omitempty" db:"driver_lat"`
	DriverLng  *float64 `json:"driver_lng,omitempty" db:"driver_lng"`

	ConfirmedAt *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	PreparingAt *time.Time `json:"preparing_at,omitempty" db:"preparing_at"`
	ReadyAt     *time.Time `json:"ready_at,omitempty" db:"ready_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	PickedUpAt  *time.Time `json:"picked_up_at,omitempty" db:"picked_up_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// VerifyPin is a compare-only check of the 4-digit handoff PIN.
func (o *Order) VerifyPin(supplied string) bool {
	return o.PIN != "" && o.PIN == supplied
}
