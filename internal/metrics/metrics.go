package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Location acquisition metrics
var (
	// LocationAttemptsTotal counts single position reads by result (success/timeout/unavailable/denied/unsupported)
	LocationAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "location_attempts_total",
			Help: "Total position read attempts by result",
		},
		[]string{"result"},
	)

	LocationAcquireDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "location_acquire_duration_seconds",
			Help:    "Time to obtain a position including retries",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 45},
		},
	)

	// TrackedSamplesTotal counts continuous-watch samples by persistence status
	TrackedSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracked_samples_total",
			Help: "Total continuous-watch samples by persistence status",
		},
		[]string{"status"},
	)
)

// Presence session metrics
var (
	SessionStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_session_starts_total",
			Help: "Presence session start attempts by outcome",
		},
		[]string{"outcome"},
	)

	// SessionStopsTotal counts session teardowns by reason (user/auto/signout/failsafe)
	SessionStopsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_session_stops_total",
			Help: "Presence session stops by reason",
		},
		[]string{"reason"},
	)

	// SessionActive is 1 while the user is discoverable
	SessionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_session_active",
			Help: "Whether a presence session is currently active (0 or 1)",
		},
	)

	RollbackFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_rollback_failures_total",
			Help: "Unwind steps that failed after an aborted or stopped session",
		},
	)
)

// Discovery rescan metrics
var (
	// RescansTotal counts radius searches by trigger (initial/timer/change/manual) and status
	RescansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescans_total",
			Help: "Total nearby rescans by trigger and status",
		},
		[]string{"trigger", "status"},
	)

	RescanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rescan_duration_seconds",
			Help:    "Nearby rescan duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	NearbyUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nearby_users",
			Help: "Size of the current nearby-user snapshot",
		},
	)

	ChangeFeedEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "changefeed_events_total",
			Help: "Profile change events received while a session is active",
		},
	)

	ChangeFeedSubscribeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "changefeed_subscribe_failures_total",
			Help: "Failed attempts to open the profile change subscription",
		},
	)

	ChangeFeedSubscriptionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "changefeed_subscription_active",
			Help: "Whether the profile change subscription is open (0 or 1)",
		},
	)

	ChangeFeedLostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "changefeed_subscriptions_lost_total",
			Help: "Profile change subscriptions that stopped delivering without being closed",
		},
	)
)

// Interest relay metrics
var (
	InterestSignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interest_signals_total",
			Help: "Interest signals by outcome (match/interest/failed)",
		},
		[]string{"outcome"},
	)
)

// Redis Operations Metrics
var (
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation latency by operation",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
		[]string{"operation"},
	)

	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Failed Redis connection attempts",
		},
	)

	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// WebSocket metrics
var (
	WebSocketConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_current",
			Help: "Current number of connected WebSocket clients",
		},
	)

	WebSocketMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_dropped_total",
			Help: "Messages dropped because a client send buffer was full",
		},
	)
)

// Database metrics
var (
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "PostgreSQL query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)

	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "PostgreSQL errors by query",
		},
		[]string{"query"},
	)
)

// Application metrics
var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information (always 1)",
		},
		[]string{"version", "commit", "go_version"},
	)
)
