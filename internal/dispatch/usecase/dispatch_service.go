package usecase

import (
	"context"
	"sort"
	"time"

	driverdomain "marketfleet/internal/driver/domain"
	driverrepo "marketfleet/internal/driver/repo"
	"marketfleet/internal/geo"
	orderdomain "marketfleet/internal/order/domain"
	orderrepo "marketfleet/internal/order/repo"
	"marketfleet/internal/shared/config"

	"github.com/rs/zerolog"
)

type changePropagator interface {
	Propagate(ctx context.Context, event orderdomain.ChangeEvent, o *orderdomain.Order)
}

// DispatchService is the claim engine: it pairs available delivery orders
// with available drivers and walks the driver track to completion.
type DispatchService struct {
	orders     orderrepo.OrderRepository
	drivers    driverrepo.DriverRepository
	propagator changePropagator
	policy     config.PolicyConfig
	log        zerolog.Logger
	now        func() time.Time
}

func NewDispatchService(
	orders orderrepo.OrderRepository,
	drivers driverrepo.DriverRepository,
	propagator changePropagator,
	policy config.PolicyConfig,
	log zerolog.Logger,
) *DispatchService {
	return &DispatchService{
		orders:     orders,
		drivers:    drivers,
		propagator: propagator,
		policy:     policy,
		log:        log,
		now:        time.Now,
	}
}

// AvailableOrder is one entry of the driver's ranked work feed.
type AvailableOrder struct {
	Order      orderdomain.Order `json:"order"`
	DistanceKm *float64          `json:"distance_km,omitempty"`
}

// AvailableOrders returns claimable delivery orders ranked by distance from
// the driver's last known position to the vendor pickup point, nearest first.
// Without a position the list falls back to oldest first.
func (s *DispatchService) AvailableOrders(ctx context.Context, driverID string) ([]AvailableOrder, error) {
	d, err := s.drivers.FindByID(ctx, driverID)
	if err != nil {
		return nil, err
	}

	orders, err := s.orders.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]AvailableOrder, 0, len(orders))
	for _, o := range orders {
		entry := AvailableOrder{Order: o}
		if d.HasPosition() {
			km := geo.DistanceKm(*d.LastLat, *d.LastLng, o.PickupLat, o.PickupLng)
			entry.DistanceKm = &km
		}
		out = append(out, entry)
	}

	if d.HasPosition() {
		sort.SliceStable(out, func(i, j int) bool {
			return *out[i].DistanceKm < *out[j].DistanceKm
		})
	}
	return out, nil
}

// ClaimOrder atomically assigns the order to the driver. The order row is the
// single source of truth for the assignment; the driver's BUSY flip follows
// after commit and is retried until it lands.
func (s *DispatchService) ClaimOrder(ctx context.Context, driverID, orderID string) (*orderdomain.Order, error) {
	d, err := s.drivers.FindByID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if !d.CanClaim() {
		if d.CurrentOrderID != nil {
			return nil, driverdomain.ErrDriverBusy
		}
		return nil, driverdomain.ErrDriverNotAvailable
	}

	at := s.now().UTC()
	o, err := s.orders.Claim(ctx, orderID, driverID, d.Name, at)
	if err != nil {
		return nil, err
	}

	s.assignDriver(ctx, driverID, orderID)

	s.log.Info().
		Str("action", "order_claimed").
		Str("order_id", o.ID).
		Str("driver_id", driverID).
		Msg("claim won")

	s.propagator.Propagate(ctx, orderdomain.ChangeEvent{
		Kind:          orderdomain.EventOrderClaimed,
		OrderID:       o.ID,
		Code:          o.Code,
		VendorID:      o.VendorID,
		CustomerID:    o.CustomerID,
		DriverID:      driverID,
		ChangedFields: []string{"status", "driver_id", "driver_name", "claimed_at"},
		NewValues: map[string]any{
			"status":      o.Status,
			"driver_id":   driverID,
			"driver_name": d.Name,
			"claimed_at":  at,
		},
		ServerTime: at,
	}, o)

	return o, nil
}

// assignDriver flips the winner to BUSY. The claim already committed, so a
// transient failure here must not surface to the driver; keep trying briefly
// and log loudly if the flip still fails.
func (s *DispatchService) assignDriver(ctx context.Context, driverID, orderID string) {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		if err = s.drivers.Assign(ctx, driverID, orderID); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	s.log.Error().
		Str("action", "driver_assign_failed").
		Str("driver_id", driverID).
		Str("order_id", orderID).
		Err(err).
		Msg("driver state diverged from claim")
}

// Pickup moves the driver's claimed order to out_for_delivery.
func (s *DispatchService) Pickup(ctx context.Context, driverID string) (*orderdomain.Order, error) {
	return s.advanceDriverTrack(ctx, driverID, orderdomain.StatusClaimed, orderdomain.StatusOutForDelivery, "")
}

// Deliver completes the driver's active order. With the PIN policy on, the
// supplied PIN must match the one issued at checkout.
func (s *DispatchService) Deliver(ctx context.Context, driverID, pin string) (*orderdomain.Order, error) {
	return s.advanceDriverTrack(ctx, driverID, orderdomain.StatusOutForDelivery, orderdomain.StatusDelivered, pin)
}

func (s *DispatchService) advanceDriverTrack(ctx context.Context, driverID string, expected, next orderdomain.Status, pin string) (*orderdomain.Order, error) {
	o, err := s.orders.FindActiveByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if o.Status != expected {
		return nil, orderdomain.ErrInvalidTransition
	}

	if next == orderdomain.StatusDelivered && s.policy.RequirePIN && !o.VerifyPin(pin) {
		return nil, orderdomain.ErrPinMismatch
	}

	at := s.now().UTC()
	if err := s.orders.AdvanceStatus(ctx, o.ID, expected, next, at); err != nil {
		return nil, err
	}
	o.Status = next
	o.UpdatedAt = at

	kind := orderdomain.EventStatusChanged
	field := "picked_up_at"
	switch next {
	case orderdomain.StatusOutForDelivery:
		o.PickedUpAt = &at
	case orderdomain.StatusDelivered:
		o.DeliveredAt = &at
		kind = orderdomain.EventOrderDelivered
		field = "delivered_at"
	}

	if next == orderdomain.StatusDelivered {
		s.releaseDriver(ctx, driverID, o.ID, true)
	}

	s.log.Info().
		Str("action", "driver_track_advanced").
		Str("order_id", o.ID).
		Str("driver_id", driverID).
		Str("to", next.String()).
		Msg("driver track advanced")

	s.propagator.Propagate(ctx, orderdomain.ChangeEvent{
		Kind:          kind,
		OrderID:       o.ID,
		Code:          o.Code,
		VendorID:      o.VendorID,
		CustomerID:    o.CustomerID,
		DriverID:      driverID,
		ChangedFields: []string{"status", field},
		NewValues:     map[string]any{"status": o.Status, field: at},
		ServerTime:    at,
	}, o)

	return o, nil
}

// ReleaseDriver frees a driver from a finished order. Only a completed
// delivery counts toward the driver's total; a cancellation releases without
// credit. Safe to call more than once for the same order.
func (s *DispatchService) ReleaseDriver(ctx context.Context, driverID, orderID string, completed bool) {
	s.releaseDriver(ctx, driverID, orderID, completed)
}

func (s *DispatchService) releaseDriver(ctx context.Context, driverID, orderID string, completed bool) {
	released, err := s.drivers.Release(ctx, driverID, orderID, completed)
	if err != nil {
		s.log.Error().
			Str("action", "driver_release_failed").
			Str("driver_id", driverID).
			Str("order_id", orderID).
			Err(err).
			Msg("driver still marked busy")
		return
	}
	if released {
		s.log.Info().
			Str("action", "driver_released").
			Str("driver_id", driverID).
			Str("order_id", orderID).
			Msg("driver available again")
	}
}
