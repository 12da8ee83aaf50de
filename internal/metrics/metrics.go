// Package metrics declares the Prometheus collectors shared by the seat lock
// core, the realtime gateway and the booking API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Seat lock metrics
var (
	// SeatLocksActive tracks locks currently held across all rooms
	SeatLocksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seat_locks_active",
			Help: "Seat locks currently held across all showtimes",
		},
	)

	// SeatLockOutcomes counts acquire/release calls by outcome
	SeatLockOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seat_lock_outcomes_total",
			Help: "Seat lock operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// SeatLocksExpired counts expired locks by how they were cleared (sweep/overwrite)
	SeatLocksExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seat_locks_expired_total",
			Help: "Expired seat locks by removal path",
		},
		[]string{"path"},
	)
)

// Realtime gateway metrics
var (
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections_current",
			Help: "Open realtime connections",
		},
	)

	RealtimeRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_rooms_current",
			Help: "Showtime rooms with at least one member",
		},
	)

	// RealtimeEvents counts inbound events by name and result (ok/invalid/rate_limited)
	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Inbound realtime events by event and result",
		},
		[]string{"event", "result"},
	)

	RealtimeBroadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_broadcasts_total",
			Help: "Outbound realtime events by event",
		},
		[]string{"event"},
	)

	RealtimeSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_slow_clients_evicted_total",
			Help: "Realtime clients closed because their send buffer was full",
		},
	)

	RealtimePingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_ping_failures_total",
			Help: "Failed websocket ping writes",
		},
	)
)

// Booking metrics
var (
	// BookingsTotal counts booking attempts by result
	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_total",
			Help: "Booking attempts by result",
		},
		[]string{"result"},
	)

	// PublishFailures counts failed broker publishes by queue
	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_publish_failures_total",
			Help: "Failed message broker publishes by queue",
		},
		[]string{"queue"},
	)
)

// HTTP metrics
var (
	// HTTPRateLimited counts requests rejected by the Redis token bucket
	HTTPRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the token bucket by route",
		},
		[]string{"route"},
	)
)
