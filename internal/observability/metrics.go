package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taxi_booking"

var (
	RideTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Ride lifecycle operations by outcome"},
		[]string{"op", "result"},
	)
	RideTransitionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "ride_transition_seconds", Help: "Ride lifecycle operation latency", Buckets: prometheus.DefBuckets},
		[]string{"op"},
	)
	RidePriceTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ride_booked_price_total", Help: "Sum of prices assigned at booking"})

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_cache_lookups_total", Help: "Ride list cache lookups"},
		[]string{"result"},
	)
	CacheErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ride_cache_errors_total", Help: "Ride list cache errors"})

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_events_published_total", Help: "Ride events handed to the broker"},
		[]string{"type", "result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
