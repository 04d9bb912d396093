package httpgin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricHoldCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_hold_created_total",
		Help: "Holds placed, excluding idempotent replays.",
	})

	metricConfirmSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_confirm_success_total",
		Help: "Holds promoted to confirmed bookings, excluding replays.",
	})

	metricPlusOneSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_plus_one_success_total",
		Help: "Plus-one guests added, excluding replays.",
	})

	metricReplayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_idempotent_replay_total",
		Help: "Responses served from the idempotency ledger.",
	}, []string{"route"})

	metricFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_failed_total",
		Help: "Booking operations rejected, by route and error code.",
	}, []string{"route", "error_code"})

	metricRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_rate_limited_total",
		Help: "Requests refused by the per-user token bucket.",
	}, []string{"route"})
)
