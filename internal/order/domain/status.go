package domain

// Status is the order lifecycle state. The vendor track is shared by both
// fulfillment types; claimed and out_for_delivery exist only for delivery
// orders and are entered via the dispatch engine and the assigned driver.
// For pickup orders, delivered means "picked up by the customer".
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusReadyForPickup Status = "ready_for_pickup"
	StatusClaimed        Status = "claimed"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

func (s Status) String() string { return string(s) }

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Actor roles passed to Advance.
const (
	ActorVendor   = "vendor"
	ActorAdmin    = "admin"
	ActorDriver   = "driver"
	ActorCustomer = "customer"
)

// Each status maps to its single legal successor per fulfillment type.
// ready_for_pickup has no successor in the delivery track on purpose: a ready
// delivery order waits for the dispatch claim, which is the only way into
// claimed.
var nextDelivery = map[Status]Status{
	StatusPending:        StatusConfirmed,
	StatusConfirmed:      StatusPreparing,
	StatusPreparing:      StatusReadyForPickup,
	StatusClaimed:        StatusOutForDelivery,
	StatusOutForDelivery: StatusDelivered,
}

var nextPickup = map[Status]Status{
	StatusPending:        StatusConfirmed,
	StatusConfirmed:      StatusPreparing,
	StatusPreparing:      StatusReadyForPickup,
	StatusReadyForPickup: StatusDelivered,
}

// NextStatus returns the single legal successor of current in the flow for
// the given fulfillment type, or false if there is none (terminal, or an
// unclaimed ready delivery order waiting on dispatch).
func NextStatus(ft FulfillmentType, current Status) (Status, bool) {
	var next Status
	var ok bool
	if ft == FulfillmentPickup {
		next, ok = nextPickup[current]
	} else {
		next, ok = nextDelivery[current]
	}
	return next, ok
}

// ClaimableStatuses are the states a delivery order may be claimed from.
var ClaimableStatuses = []Status{StatusConfirmed, StatusPreparing, StatusReadyForPickup}

// IsClaimable reports whether an unassigned delivery order in this status may
// be claimed by a driver.
func IsClaimable(s Status) bool {
	for _, c := range ClaimableStatuses {
		if s == c {
			return true
		}
	}
	return false
}

// ValidateTransition checks that requested is a legal next step from current
// in the flow for ft. Cancellation is legal from any non-terminal state.
// The classification mirrors the caller-visible error taxonomy: terminal
// states fail with ErrAlreadyTerminal before anything else.
func ValidateTransition(ft FulfillmentType, current, requested Status) error {
	if current.IsTerminal() {
		return ErrAlreadyTerminal
	}
	if requested == StatusCancelled {
		return nil
	}
	next, ok := NextStatus(ft, current)
	if !ok || next != requested {
		return ErrInvalidTransition
	}
	return nil
}

// driverOwned marks transitions performed by the assigned driver.
var driverOwned = map[Status]bool{
	StatusOutForDelivery: true,
	StatusDelivered:      true,
}

// ValidateActor checks that the actor role may perform the transition into
// requested. Vendors drive the preparation track, the assigned driver drives
// its own track, customers may only cancel, admin may do anything. For pickup
// orders delivered is a counter handoff and stays with the vendor.
func ValidateActor(ft FulfillmentType, requested Status, actor string) error {
	if actor == ActorAdmin {
		return nil
	}
	if requested == StatusCancelled {
		if actor == ActorDriver {
			return ErrActorNotAllowed
		}
		return nil
	}
	if actor == ActorCustomer {
		return ErrActorNotAllowed
	}
	if ft == FulfillmentDelivery && driverOwned[requested] {
		if actor != ActorDriver {
			return ErrActorNotAllowed
		}
		return nil
	}
	if actor != ActorVendor {
		return ErrActorNotAllowed
	}
	return nil
}
