package trading

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/femasgate/internal/metrics"
)

// Order breaker defaults
const (
	OrderBreakerName        = "orders"
	DefaultBreakerFailures  = 5
	DefaultBreakerInterval  = time.Minute
	DefaultBreakerTimeout   = 30 * time.Second
	orderBreakerHalfOpenMax = 1
)

// BreakerSettings configures the order circuit breaker
type BreakerSettings struct {
	MaxFailures uint32        // Consecutive rejections before tripping
	Interval    time.Duration // Window after which closed-state counts reset
	Timeout     time.Duration // How long the breaker stays open
}

// newOrderBreaker trips after MaxFailures consecutive vendor rejections or
// send failures. Local validation errors and caller cancellations do not
// count.
func newOrderBreaker(s BreakerSettings) *gobreaker.CircuitBreaker {
	if s.MaxFailures == 0 {
		s.MaxFailures = DefaultBreakerFailures
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultBreakerTimeout
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        OrderBreakerName,
		MaxRequests: orderBreakerHalfOpenMax,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !(IsVendorError(err) || errors.Is(err, ErrSendFailed))
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			metrics.UpdateCircuitBreaker(name, to == gobreaker.StateOpen)
		},
	})
	metrics.UpdateCircuitBreaker(OrderBreakerName, false)
	return cb
}
