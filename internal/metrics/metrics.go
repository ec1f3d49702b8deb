// Package metrics defines the Prometheus metrics exported by femasgate.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded label values. Free-form inputs are mapped onto these sets so label
// cardinality stays fixed.
const (
	BridgeTrader = "trader"
	BridgeMarket = "market"

	// Request outcomes
	OutcomeSent          = "sent"
	OutcomeUnknownHandle = "unknown_handle"
	OutcomeRejected      = "rejected"
	OutcomeInvalid       = "invalid"

	// Callback results
	CallbackDelivered  = "delivered"
	CallbackSuppressed = "suppressed"
	CallbackDropped    = "dropped"
	CallbackPanicked   = "panicked"
	CallbackUnhandled  = "unhandled"

	// Order results
	OrderAccepted      = "accepted"
	OrderRejected      = "rejected"
	OrderThrottled     = "throttled"
	OrderBreakerOpen   = "breaker_open"
	OrderInvalid       = "invalid"
	OrderSendFailed    = "send_failed"
	OrderResultUnknown = "other"

	// Vendor error categories
	VendorErrorAuth    = "authentication"
	VendorErrorSession = "session"
	VendorErrorFunds   = "funds"
	VendorErrorOrder   = "order"
	VendorErrorOther   = "other"
)

// NormalizeOrderResult maps an order result onto the bounded label set.
func NormalizeOrderResult(result string) string {
	switch result {
	case OrderAccepted, OrderRejected, OrderThrottled, OrderBreakerOpen, OrderInvalid, OrderSendFailed:
		return result
	default:
		return OrderResultUnknown
	}
}

// NormalizeVendorError maps a vendor error message onto a category.
func NormalizeVendorError(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "auth") || strings.Contains(msg, "认证") || strings.Contains(msg, "密码"):
		return VendorErrorAuth
	case strings.Contains(lower, "login") || strings.Contains(msg, "登录"):
		return VendorErrorSession
	case strings.Contains(lower, "fund") || strings.Contains(msg, "资金"):
		return VendorErrorFunds
	case strings.Contains(lower, "order") || strings.Contains(msg, "报单") || strings.Contains(msg, "持仓"):
		return VendorErrorOrder
	default:
		return VendorErrorOther
	}
}

// Bridge metrics
var (
	// Live vendor sessions by bridge
	BridgeSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "femasgate_bridge_sessions",
		Help: "Number of live vendor sessions",
	}, []string{"bridge"})

	// Outbound requests by outcome
	BridgeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "femasgate_bridge_requests_total",
		Help: "Total outbound vendor requests by operation and outcome",
	}, []string{"bridge", "op", "outcome"})

	// Inbound callbacks by result
	BridgeCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "femasgate_bridge_callbacks_total",
		Help: "Total vendor callbacks by event and relay result",
	}, []string{"bridge", "event", "result"})
)

// Trading metrics
var (
	Orders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "femasgate_orders_total",
		Help: "Total order submissions by result",
	}, []string{"result"})

	Trades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "femasgate_trades_total",
		Help: "Total trade returns received",
	})

	VendorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "femasgate_vendor_errors_total",
		Help: "Total vendor error responses by category",
	}, []string{"category"})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "femasgate_query_duration_ms",
		Help:    "Vendor query round trip in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"query"})

	// Session state (1 = up)
	SessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "femasgate_session_state",
		Help: "Session state flags (1 = true, 0 = false)",
	}, []string{"bridge", "state"})

	// Circuit breaker status (1 = open, 0 = closed)
	CircuitBreakerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "femasgate_circuit_breaker_status",
		Help: "Circuit breaker status (1 = open, 0 = closed or half-open)",
	}, []string{"breaker"})
)

// Market data metrics
var (
	MarketTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "femasgate_market_ticks_total",
		Help: "Total depth market data snapshots received",
	})

	SubscribedInstruments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "femasgate_subscribed_instruments",
		Help: "Number of subscribed instruments",
	})

	SnapshotCacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "femasgate_snapshot_cache_hit_rate",
		Help: "Snapshot cache hit rate as a ratio (0.0 to 1.0)",
	})

	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "femasgate_redis_operations_total",
		Help: "Total number of Redis operations by type",
	}, []string{"operation"})

	RedisCacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "femasgate_redis_cache_hit_rate",
		Help: "Redis cache hit rate as a ratio (0.0 to 1.0)",
	})
)

// System metrics
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "femasgate_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"method", "path", "status"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "femasgate_events_published_total",
		Help: "Total events published by sink and result",
	}, []string{"sink", "result"})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "femasgate_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	UserSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "femasgate_user_sessions",
		Help: "Number of open front-end user sessions",
	})

	APIKeyChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "femasgate_api_key_checks_total",
		Help: "API key checks on control routes by result",
	}, []string{"result"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "femasgate_database_connections_active",
		Help: "Number of acquired database connections",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "femasgate_database_connections_idle",
		Help: "Number of idle database connections",
	})

	JournalRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "femasgate_journal_rows",
		Help: "Rows in the trade journal by table",
	}, []string{"table"})

	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "femasgate_database_query_duration_ms",
		Help:    "Database query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"query_type"})
)

// Audit metrics
var (
	AuditLogOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "femasgate_audit_log_operations_total",
		Help: "Total audit events recorded by event type and result",
	}, []string{"event_type", "result"})

	AuditLogLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "femasgate_audit_log_latency_ms",
		Help:    "Audit event write latency in milliseconds",
		Buckets: []float64{0.5, 1, 5, 10, 25, 50, 100, 250},
	}, []string{"event_type"})
)

// RecordRequest records an outbound vendor request.
func RecordRequest(bridge, op, outcome string) {
	BridgeRequests.WithLabelValues(bridge, op, outcome).Inc()
}

// RecordCallback records the relay result of a vendor callback.
func RecordCallback(bridge, event, result string) {
	BridgeCallbacks.WithLabelValues(bridge, event, result).Inc()
}

// SetSessions sets the live session gauge of a bridge.
func SetSessions(bridge string, n int) {
	BridgeSessions.WithLabelValues(bridge).Set(float64(n))
}

// SetSessionState records a boolean session flag such as connected or logged_in.
func SetSessionState(bridge, state string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	SessionState.WithLabelValues(bridge, state).Set(v)
}

// RecordOrder records an order submission result.
func RecordOrder(result string) {
	Orders.WithLabelValues(NormalizeOrderResult(result)).Inc()
}

// RecordVendorError records a vendor error response.
func RecordVendorError(msg string) {
	VendorErrors.WithLabelValues(NormalizeVendorError(msg)).Inc()
}

// RecordQuery records a query round trip.
func RecordQuery(query string, durationMs float64) {
	QueryDuration.WithLabelValues(query).Observe(durationMs)
}

// UpdateCircuitBreaker records the breaker state.
func UpdateCircuitBreaker(breaker string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	CircuitBreakerStatus.WithLabelValues(breaker).Set(v)
}

// RecordAPIRequest records an API request with duration.
func RecordAPIRequest(method, path, status string, durationMs float64) {
	APIRequestDuration.WithLabelValues(method, path, status).Observe(durationMs)
}

// RecordPublish records an event publication.
func RecordPublish(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsPublished.WithLabelValues(sink, result).Inc()
}

// RecordRedisOperation records a Redis operation.
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

// UpdateDatabaseConnections updates database connection metrics.
func UpdateDatabaseConnections(active, idle int32) {
	DatabaseConnectionsActive.Set(float64(active))
	DatabaseConnectionsIdle.Set(float64(idle))
}

// RecordDatabaseQuery records a database query.
func RecordDatabaseQuery(queryType string, durationMs float64) {
	DatabaseQueryDuration.WithLabelValues(queryType).Observe(durationMs)
}

// RecordAuditLog records an audit event write.
func RecordAuditLog(eventType string, success bool, durationMs float64) {
	result := "ok"
	if !success {
		result = "error"
	}
	AuditLogOperations.WithLabelValues(eventType, result).Inc()
	AuditLogLatency.WithLabelValues(eventType).Observe(durationMs)
}
