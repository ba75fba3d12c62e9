/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/tickets/*   Purchase, cancel, lookup
  /api/users/*     Accounts, balance, top-up, history
  /api/trips/*     Scheduling and seat maps
  /api/coupons/*   Coupons, grants, validation
  /api/buses       Fleet registration

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Ticket routes
		r.Route("/tickets", func(r chi.Router) {
			r.Post("/", h.PurchaseTicket)
			r.Get("/{id}", h.GetTicket)
			r.Post("/{id}/cancel", h.CancelTicket)
		})

		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.Get("/{id}/balance", h.GetBalance)
			r.Post("/{id}/topup", h.TopUpCredit)
			r.Get("/{id}/payments", h.ListPayments)
			r.Get("/{id}/tickets", h.ListTickets)
		})

		// Trip routes
		r.Route("/trips", func(r chi.Router) {
			r.Post("/", h.CreateTrip)
			r.Get("/{id}/seats", h.GetTripSeats)
		})

		// Coupon routes
		r.Route("/coupons", func(r chi.Router) {
			r.Post("/", h.CreateCoupon)
			r.Post("/grants", h.GrantCoupon)
			r.Get("/validate", h.ValidateCoupon)
		})

		// Fleet routes
		r.Post("/buses", h.CreateBus)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
