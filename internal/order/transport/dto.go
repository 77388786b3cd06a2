package transport

import (
	"marketfleet/internal/order/domain"
)

type createOrderRequest struct {
	VendorID        string             `json:"vendor_id"`
	FulfillmentType string             `json:"fulfillment_type"`
	Items           []orderItemPayload `json:"items"`
	DeliveryFee     float64            `json:"delivery_fee"`
	DeliveryAddress *addressPayload    `json:"delivery_address,omitempty"`
	PickupLat       float64            `json:"pickup_lat"`
	PickupLng       float64            `json:"pickup_lng"`
}

type orderItemPayload struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type addressPayload struct {
	Street    string  `json:"street"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// createOrderResponse is the only payload that ever carries the PIN.
type createOrderResponse struct {
	Order *domain.Order `json:"order"`
	Pin   string        `json:"pin"`
}

type advanceStatusRequest struct {
	Status string `json:"status"`
	Pin    string `json:"pin,omitempty"`
}

func (r createOrderRequest) items() []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, domain.OrderItem{
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return out
}

func (r createOrderRequest) address() *domain.Address {
	if r.DeliveryAddress == nil {
		return nil
	}
	return &domain.Address{
		Street:    r.DeliveryAddress.Street,
		City:      r.DeliveryAddress.City,
		Latitude:  r.DeliveryAddress.Latitude,
		Longitude: r.DeliveryAddress.Longitude,
	}
}
