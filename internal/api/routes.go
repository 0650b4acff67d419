package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridehail/internal/auth"
	"ridehail/internal/matching"
	"ridehail/internal/notify"
	"ridehail/internal/ridestore"
)

// AttachRoutes wires HTTP routes to handlers, grounded on the teacher's
// AttachRoutes wiring pattern (chi + middleware.RequestID, the JSONLogger
// request log, a public health check, an authenticated route group).
// eventsPool may be
// nil when running against the in-memory store.
func AttachRoutes(r chi.Router, engine *matching.Engine, store ridestore.Store, sessions auth.Store, bus *notify.Bus, authTTL time.Duration, eventsPool *pgxpool.Pool) {
	m := newMetrics()
	handler := &Handler{Engine: engine, Store: store, Sessions: sessions, Bus: bus, AuthTTL: authTTL, Metrics: m, EventsPool: eventsPool}

	r.Use(middleware.RequestID)
	r.Use(JSONLogger)
	r.Use(m.middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", m.serveHTTP)

	r.Post("/auth/register", handler.Signup)
	r.Post("/auth/login", handler.Login)

	r.Group(func(pr chi.Router) {
		pr.Use(authMiddleware(sessions, store))

		pr.Post("/ride/request", handler.RequestRide)
		pr.Get("/rides/{rideID}", handler.GetRide)
		pr.Get("/rides", handler.ListRides)
		pr.Get("/rides/{rideID}/events", handler.GetRideEvents)
		pr.Put("/rides/{rideID}/accept", handler.AcceptRide)
		pr.Put("/rides/{rideID}/decline", handler.DeclineRide)
		pr.Put("/rides/{rideID}/cancel", handler.CancelRide)
		pr.Put("/rides/{rideID}/start", handler.StartRide)
		pr.Put("/rides/{rideID}/complete", handler.CompleteRide)

		pr.Put("/users/{userID}/location", handler.UpdateUserLocation)
		pr.Put("/users/{userID}/availability", handler.UpdateUserAvailability)

		pr.Get("/ws/notifications", handler.Notifications)
	})
}
