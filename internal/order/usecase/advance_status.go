package usecase

import (
	"context"
	"fmt"
	"time"

	"marketfleet/internal/order/domain"
)

// AdvanceInput describes one requested status transition.
type AdvanceInput struct {
	OrderID   string
	Requested domain.Status
	ActorRole string
	ActorID   string
	Pin       string
}

// Advance applies a single status transition: flow check, actor check, PIN
// gate, then a conditional write that loses cleanly to concurrent movers.
func (s *OrderService) Advance(ctx context.Context, in AdvanceInput) (*domain.Order, error) {
	o, err := s.orders.FindByID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}

	if err := domain.ValidateTransition(o.FulfillmentType, o.Status, in.Requested); err != nil {
		return nil, err
	}
	if err := domain.ValidateActor(o.FulfillmentType, in.Requested, in.ActorRole); err != nil {
		return nil, err
	}

	// Driver-track transitions are only valid from the assigned driver.
	if in.ActorRole == domain.ActorDriver {
		if o.DriverID == nil || *o.DriverID != in.ActorID {
			return nil, domain.ErrActorNotAllowed
		}
	}

	// The handoff PIN gates the delivery completion, not the pickup counter
	// handoff and not an admin override.
	if in.Requested == domain.StatusDelivered &&
		o.FulfillmentType == domain.FulfillmentDelivery &&
		s.policy.RequirePIN &&
		in.ActorRole != domain.ActorAdmin {
		if !o.VerifyPin(in.Pin) {
			return nil, domain.ErrPinMismatch
		}
	}

	at := s.now().UTC()
	if err := s.orders.AdvanceStatus(ctx, o.ID, o.Status, in.Requested, at); err != nil {
		return nil, err
	}

	applyStamp(o, in.Requested, at)
	prev := o.Status
	o.Status = in.Requested
	o.UpdatedAt = at

	s.log.Info().
		Str("action", "order_status_changed").
		Str("order_id", o.ID).
		Str("from", prev.String()).
		Str("to", in.Requested.String()).
		Str("actor_role", in.ActorRole).
		Msg("status advanced")

	fields := []string{"status", stampField(in.Requested)}
	s.propagator.Propagate(ctx, domain.ChangeEvent{
		Kind:          eventKind(in.Requested),
		OrderID:       o.ID,
		Code:          o.Code,
		VendorID:      o.VendorID,
		CustomerID:    o.CustomerID,
		DriverID:      derefOrEmpty(o.DriverID),
		ChangedFields: fields,
		NewValues: map[string]any{
			"status":                 o.Status,
			stampField(in.Requested): at,
		},
		ServerTime: at,
	}, o)

	return o, nil
}

func eventKind(s domain.Status) string {
	switch s {
	case domain.StatusDelivered:
		return domain.EventOrderDelivered
	case domain.StatusCancelled:
		return domain.EventOrderCancelled
	default:
		return domain.EventStatusChanged
	}
}

func stampField(s domain.Status) string {
	switch s {
	case domain.StatusConfirmed:
		return "confirmed_at"
	case domain.StatusPreparing:
		return "preparing_at"
	case domain.StatusReadyForPickup:
		return "ready_at"
	case domain.StatusClaimed:
		return "claimed_at"
	case domain.StatusOutForDelivery:
		return "picked_up_at"
	case domain.StatusDelivered:
		return "delivered_at"
	case domain.StatusCancelled:
		return "cancelled_at"
	default:
		return fmt.Sprintf("unknown_%s_at", s)
	}
}

func applyStamp(o *domain.Order, s domain.Status, at time.Time) {
	switch s {
	case domain.StatusConfirmed:
		o.ConfirmedAt = &at
	case domain.StatusPreparing:
		o.PreparingAt = &at
	case domain.StatusReadyForPickup:
		o.ReadyAt = &at
	case domain.StatusClaimed:
		o.ClaimedAt = &at
	case domain.StatusOutForDelivery:
		o.PickedUpAt = &at
	case domain.StatusDelivered:
		o.DeliveredAt = &at
	case domain.StatusCancelled:
		o.CancelledAt = &at
	}
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
