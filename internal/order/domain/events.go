package domain

import "time"

// Change event kinds, also used as AMQP routing-key suffixes.
const (
	EventOrderCreated   = "order.created"
	EventStatusChanged  = "order.status_changed"
	EventOrderClaimed   = "order.claimed"
	EventOrderDelivered = "order.delivered"
	EventOrderCancelled = "order.cancelled"
	EventDriverLocation = "order.driver_location"
)

// ChangeEvent describes one accepted mutation of an order's mutable fields.
// It is the propagation payload: the copies are refreshed from it and the
// live feeds receive it verbatim.
type ChangeEvent struct {
	Kind          string         `json:"kind"`
	Origin        string         `json:"origin,omitempty"`
	OrderID       string         `json:"order_id"`
	Code          string         `json:"code"`
	VendorID      string         `json:"vendor_id"`
	CustomerID    string         `json:"customer_id"`
	DriverID      string         `json:"driver_id,omitempty"`
	ChangedFields []string       `json:"changed_fields"`
	NewValues     map[string]any `json:"new_values"`
	ServerTime    time.Time      `json:"server_time"`
}
