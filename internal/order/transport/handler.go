package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"marketfleet/internal/order/domain"
	"marketfleet/internal/order/usecase"
	"marketfleet/internal/shared/config"
	"marketfleet/internal/shared/httpx"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type Handler struct {
	orders *usecase.OrderService
	policy config.PolicyConfig
	log    zerolog.Logger
}

func NewHandler(orders *usecase.OrderService, policy config.PolicyConfig, log zerolog.Logger) *Handler {
	return &Handler{orders: orders, policy: policy, log: log}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	customerID, _ := httpx.UserIDFromContext(r.Context())

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ft := domain.FulfillmentType(req.FulfillmentType)
	if ft != domain.FulfillmentPickup && ft != domain.FulfillmentDelivery {
		httpx.RespondError(w, http.StatusBadRequest, "fulfillment_type must be pickup or delivery")
		return
	}

	o, err := h.orders.CreateOrder(r.Context(), usecase.CreateOrderInput{
		CustomerID:      customerID,
		VendorID:        req.VendorID,
		FulfillmentType: ft,
		Items:           req.items(),
		DeliveryFee:     req.DeliveryFee,
		TaxRate:         h.policy.TaxRate,
		DeliveryAddress: req.address(),
		PickupLat:       req.PickupLat,
		PickupLng:       req.PickupLng,
	})
	if err != nil {
		writeOrderError(w, err)
		return
	}

	httpx.RespondJSON(w, http.StatusCreated, createOrderResponse{Order: o, Pin: o.PIN})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := httpx.UserIDFromContext(r.Context())
	role, _ := httpx.RoleFromContext(r.Context())

	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"), userID, actorFromRole(role))
	if err != nil {
		writeOrderError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, o)
}

func (h *Handler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := httpx.UserIDFromContext(r.Context())
	role, _ := httpx.RoleFromContext(r.Context())

	var req advanceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == "" {
		httpx.RespondError(w, http.StatusBadRequest, "status required")
		return
	}

	o, err := h.orders.Advance(r.Context(), usecase.AdvanceInput{
		OrderID:   chi.URLParam(r, "orderID"),
		Requested: domain.Status(req.Status),
		ActorRole: actorFromRole(role),
		ActorID:   userID,
		Pin:       req.Pin,
	})
	if err != nil {
		writeOrderError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, o)
}

func (h *Handler) ListVendorOrders(w http.ResponseWriter, r *http.Request) {
	vendorID, _ := httpx.UserIDFromContext(r.Context())

	copies, err := h.orders.ListVendorOrders(r.Context(), vendorID)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, copies)
}

func (h *Handler) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	customerID, _ := httpx.UserIDFromContext(r.Context())

	copies, err := h.orders.ListCustomerOrders(r.Context(), customerID)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, copies)
}

// actorFromRole lowers a token role to the actor vocabulary of the status
// machine.
func actorFromRole(role string) string {
	return strings.ToLower(role)
}

// writeOrderError maps domain errors onto HTTP statuses. Conflicts from
// concurrent movers are 409 so clients retry from a fresh read.
func writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		httpx.RespondError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrAlreadyTerminal):
		httpx.RespondError(w, http.StatusConflict, "order is in a terminal state")
	case errors.Is(err, domain.ErrInvalidTransition):
		httpx.RespondError(w, http.StatusUnprocessableEntity, "transition not allowed from current status")
	case errors.Is(err, domain.ErrTransitionConflict):
		httpx.RespondError(w, http.StatusConflict, "order changed concurrently, re-read and retry")
	case errors.Is(err, domain.ErrAlreadyClaimed):
		httpx.RespondError(w, http.StatusConflict, "order already claimed")
	case errors.Is(err, domain.ErrNotClaimable):
		httpx.RespondError(w, http.StatusConflict, "order is not claimable")
	case errors.Is(err, domain.ErrPinMismatch):
		httpx.RespondError(w, http.StatusForbidden, "handoff pin mismatch")
	case errors.Is(err, domain.ErrActorNotAllowed):
		httpx.RespondError(w, http.StatusForbidden, "actor may not perform this transition")
	case errors.Is(err, usecase.ErrNoItems),
		errors.Is(err, usecase.ErrMissingAddress),
		errors.Is(err, usecase.ErrBadPickupLocation):
		httpx.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		httpx.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
