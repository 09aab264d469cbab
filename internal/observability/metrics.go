package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinema_reservations_total",
			Help: "Reservation attempts by outcome",
		},
		[]string{"result"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cinema_db_tx_seconds",
			Help:    "Duration of reservation DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	SeatsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cinema_seats_reclaimed_total",
			Help: "Seats returned to availability by the expiry reclaimer",
		},
	)

	BookingsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cinema_bookings_expired_total",
			Help: "Pending bookings removed after their hold lapsed",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cinema_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cinema_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cinema_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
