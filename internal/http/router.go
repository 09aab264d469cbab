package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/filmgate/cinema-booking/internal/idempotency"
	"github.com/filmgate/cinema-booking/internal/observability"
	"github.com/filmgate/cinema-booking/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(RateLimitMiddleware(rl))
	r.Use(IdempotencyMiddleware(idemp))

	r.Post("/v1/reservations", h.Reserve)
	r.Get("/v1/bookings/{id}", h.GetBooking)
	r.Post("/v1/bookings/{id}/cancel", h.Cancel)
	r.Post("/v1/bookings/{id}/confirm-payment", h.ConfirmPayment)
	r.Post("/v1/bookings/{id}/complete", h.Complete)
	r.Get("/v1/showtimes/{id}/seats", h.SeatsSnapshot)
	r.Post("/v1/showtimes", h.CreateShowtime)
	r.Delete("/v1/showtimes/{id}", h.DeleteShowtime)
	r.Get("/v1/coupons/{code}/check", h.CheckCoupon)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
