package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	dispatchusecase "marketfleet/internal/dispatch/usecase"
	"marketfleet/internal/driver/domain"
	driverusecase "marketfleet/internal/driver/usecase"
	orderdomain "marketfleet/internal/order/domain"
	"marketfleet/internal/shared/auth"
	"marketfleet/internal/shared/httpx"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type Handler struct {
	drivers  *driverusecase.DriverService
	dispatch *dispatchusecase.DispatchService
	log      zerolog.Logger
}

func NewHandler(drivers *driverusecase.DriverService, dispatch *dispatchusecase.DispatchService, log zerolog.Logger) *Handler {
	return &Handler{drivers: drivers, dispatch: dispatch, log: log}
}

// driverID returns the path driver id after checking it belongs to the
// caller. Admin tokens may act on any driver.
func driverID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "driverID")
	userID, _ := httpx.UserIDFromContext(r.Context())
	role, _ := httpx.RoleFromContext(r.Context())
	if role != auth.RoleAdmin && id != userID {
		httpx.RespondError(w, http.StatusForbidden, "not your driver profile")
		return "", false
	}
	return id, true
}

func (h *Handler) GoOnline(w http.ResponseWriter, r *http.Request) {
	id, ok := driverID(w, r)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		httpx.RespondError(w, http.StatusBadRequest, "name required")
		return
	}

	d, err := h.drivers.GoOnline(r.Context(), id, req.Name)
	if err != nil {
		writeDriverError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, d)
}

func (h *Handler) GoOffline(w http.ResponseWriter, r *http.Request) {
	id, ok := driverID(w, r)
	if !ok {
		return
	}

	if err := h.drivers.GoOffline(r.Context(), id); err != nil {
		writeDriverError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "offline"})
}

func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := driverID(w, r)
	if !ok {
		return
	}

	var req struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.drivers.UpdateLocation(r.Context(), id, req.Lat, req.Lng); err != nil {
		writeDriverError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *Handler) AvailableOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := driverID(w, r)
	if !ok {
		return
	}

	orders, err := h.dispatch.AvailableOrders(r.Context(), id)
	if err != nil {
		writeDriverError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, orders)
}

func (h *Handler) ClaimOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := driverID(w, r)
	if !ok {
		return
	}

	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		httpx.RespondError(w, http.StatusBadRequest, "order_id required")
		return
	}

	o, err := h.dispatch.ClaimOrder(r.Context(), id, req.OrderID)
	if err != nil {
		writeDriverError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, o)
}

func (h *Handler) Pickup(w http.ResponseWriter, r *http.Request) {
	id, ok := driverID(w, r)
	if !ok {
		return
	}

	o, err := h.dispatch.Pickup(r.Context(), id)
	if err != nil {
		writeDriverError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, o)
}

func (h *Handler) Deliver(w http.ResponseWriter, r *http.Request) {
	id, ok := driverID(w, r)
	if !ok {
		return
	}

	var req struct {
		Pin string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.dispatch.Deliver(r.Context(), id, req.Pin)
	if err != nil {
		writeDriverError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, o)
}

func writeDriverError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrDriverNotFound):
		httpx.RespondError(w, http.StatusNotFound, "driver not found")
	case errors.Is(err, domain.ErrDriverNotAvailable):
		httpx.RespondError(w, http.StatusConflict, "driver not available")
	case errors.Is(err, domain.ErrDriverBusy):
		httpx.RespondError(w, http.StatusConflict, "driver has an active delivery")
	case errors.Is(err, domain.ErrInvalidCoordinates):
		httpx.RespondError(w, http.StatusBadRequest, "invalid coordinates")
	case errors.Is(err, domain.ErrLocationTooFrequent):
		httpx.RespondError(w, http.StatusTooManyRequests, "location updates too frequent")
	case errors.Is(err, orderdomain.ErrOrderNotFound):
		httpx.RespondError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, orderdomain.ErrAlreadyClaimed):
		httpx.RespondError(w, http.StatusConflict, "order already claimed")
	case errors.Is(err, orderdomain.ErrNotClaimable):
		httpx.RespondError(w, http.StatusConflict, "order is not claimable")
	case errors.Is(err, orderdomain.ErrInvalidTransition):
		httpx.RespondError(w, http.StatusUnprocessableEntity, "transition not allowed from current status")
	case errors.Is(err, orderdomain.ErrTransitionConflict):
		httpx.RespondError(w, http.StatusConflict, "order changed concurrently, re-read and retry")
	case errors.Is(err, orderdomain.ErrPinMismatch):
		httpx.RespondError(w, http.StatusForbidden, "handoff pin mismatch")
	default:
		httpx.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
