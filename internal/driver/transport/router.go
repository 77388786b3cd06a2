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

// NewRouter wires the driver-service HTTP surface: availability toggles, the
// position stream, the claim engine and the available-orders feed socket.
func NewRouter(h *Handler, hub *ws.Hub, jwtService *auth.JWTService, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(httpx.RequestID)
	r.Use(httpx.Logging(log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "driver-service"})
	})

	r.Get("/ws", hub.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(httpx.Auth(jwtService, log, auth.RoleDriver, auth.RoleAdmin))
		r.Route("/drivers/{driverID}", func(r chi.Router) {
			r.Post("/online", h.GoOnline)
			r.Post("/offline", h.GoOffline)
			r.Post("/location", h.UpdateLocation)
			r.Post("/claim", h.ClaimOrder)
			r.Post("/pickup", h.Pickup)
			r.Post("/deliver", h.Deliver)
			r.Get("/orders/available", h.AvailableOrders)
		})
	})

	return r
}
