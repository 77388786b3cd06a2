package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"marketfleet/internal/geo"
	"marketfleet/internal/order/domain"

	"github.com/google/uuid"
)

var (
	ErrNoItems           = errors.New("order has no items")
	ErrMissingAddress    = errors.New("delivery order requires a delivery address")
	ErrBadPickupLocation = errors.New("invalid vendor pickup location")
)

// CreateOrderInput is the checkout payload. Monetary fields are computed
// server-side from the items.
type CreateOrderInput struct {
	CustomerID      string
	VendorID        string
	FulfillmentType domain.FulfillmentType
	Items           []domain.OrderItem
	DeliveryFee     float64
	TaxRate         float64
	DeliveryAddress *domain.Address
	PickupLat       float64
	PickupLng       float64
}

// CreateOrder persists a new pending order and propagates its creation. The
// returned order carries the handoff PIN exactly once, for the confirmation
// response; it never appears in any other read path.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	if len(in.Items) == 0 {
		return nil, ErrNoItems
	}
	if in.FulfillmentType == domain.FulfillmentDelivery {
		if in.DeliveryAddress == nil {
			return nil, ErrMissingAddress
		}
		if !geo.ValidCoordinates(in.DeliveryAddress.Latitude, in.DeliveryAddress.Longitude) {
			return nil, ErrMissingAddress
		}
	}
	if !geo.ValidCoordinates(in.PickupLat, in.PickupLng) {
		return nil, ErrBadPickupLocation
	}

	var subtotal float64
	for _, item := range in.Items {
		subtotal += item.UnitPrice * float64(item.Quantity)
	}
	tax := subtotal * in.TaxRate

	now := s.now().UTC()
	o := &domain.Order{
		ID:              uuid.NewString(),
		Code:            generateCode(now),
		CustomerID:      in.CustomerID,
		VendorID:        in.VendorID,
		FulfillmentType: in.FulfillmentType,
		Items:           in.Items,
		Subtotal:        subtotal,
		DeliveryFee:     in.DeliveryFee,
		Tax:             tax,
		Total:           subtotal + in.DeliveryFee + tax,
		DeliveryAddress: in.DeliveryAddress,
		PickupLat:       in.PickupLat,
		PickupLng:       in.PickupLng,
		PIN:             generatePin(),
		Status:          domain.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.log.Info().
		Str("action", "order_created").
		Str("order_id", o.ID).
		Str("code", o.Code).
		Str("fulfillment_type", string(o.FulfillmentType)).
		Float64("total", o.Total).
		Msg("order accepted")

	s.propagator.Propagate(ctx, domain.ChangeEvent{
		Kind:          domain.EventOrderCreated,
		OrderID:       o.ID,
		Code:          o.Code,
		VendorID:      o.VendorID,
		CustomerID:    o.CustomerID,
		ChangedFields: []string{"status"},
		NewValues:     map[string]any{"status": o.Status},
		ServerTime:    now,
	}, o)

	return o, nil
}

// generateCode builds a human-readable order code, unique per day in
// practice and backed by a unique index either way.
func generateCode(now time.Time) string {
	return fmt.Sprintf("ORD-%s-%06d", now.Format("20060102"), rand.Intn(1000000))
}

func generatePin() string {
	return fmt.Sprintf("%04d", rand.Intn(10000))
}
