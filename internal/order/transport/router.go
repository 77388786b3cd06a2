package transport

import (
	"net/http"

	"marketfleet/internal/shared/auth"
	"marketfleet/internal/shared/httpx"
	"marketfleet/internal/shared/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter wires the order-service HTTP surface: checkout, status moves,
// party listings and the vendor/customer live feed socket.
func NewRouter(h *Handler, hub *ws.Hub, jwtService *auth.JWTService, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(httpx.RequestID)
	r.Use(httpx.Logging(log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "order-service"})
	})

	// The socket authenticates in-band with the first frame.
	r.Get("/ws", hub.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(httpx.Auth(jwtService, log, auth.RoleCustomer))
		r.Post("/orders", h.CreateOrder)
		r.Get("/customers/me/orders", h.ListCustomerOrders)
	})

	r.Group(func(r chi.Router) {
		r.Use(httpx.Auth(jwtService, log, auth.RoleVendor))
		r.Get("/vendors/me/orders", h.ListVendorOrders)
	})

	r.Group(func(r chi.Router) {
		r.Use(httpx.Auth(jwtService, log, auth.RoleVendor, auth.RoleCustomer, auth.RoleDriver, auth.RoleAdmin))
		r.Get("/orders/{orderID}", h.GetOrder)
		r.Post("/orders/{orderID}/status", h.AdvanceStatus)
	})

	return r
}
