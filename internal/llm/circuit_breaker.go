package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned without contacting the model server while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig tunes a CircuitBreaker. Zero fields take the defaults.
type CircuitBreakerConfig struct {
	MaxFailures          uint32        // consecutive failures that open the circuit (3)
	Timeout              time.Duration // how long it stays open (30s)
	HalfOpenMaxSuccesses uint32        // probe successes that close it again (2)
}

// DefaultCircuitBreakerConfig returns 3 failures, 30 seconds and 2 probes.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{MaxFailures: 3, Timeout: 30 * time.Second, HalfOpenMaxSuccesses: 2}
}

// CircuitBreakerMetrics are lifetime totals plus the breaker's current
// consecutive counts.
type CircuitBreakerMetrics struct {
	TotalRequests        uint64
	TotalSuccesses       uint64
	TotalFailures        uint64
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker guards calls to the model server so a dead server costs
// one fast error per call instead of a timeout.
type CircuitBreaker struct {
	cb        *gobreaker.CircuitBreaker
	successes atomic.Uint64
	failures  atomic.Uint64
}

// NewCircuitBreaker creates a breaker with the default configuration.
func NewCircuitBreaker(name string, logger *zap.Logger) *CircuitBreaker {
	return NewCircuitBreakerWithConfig(name, CircuitBreakerConfig{}, logger)
}

// NewCircuitBreakerWithConfig creates a breaker. State changes are logged
// at warn level.
func NewCircuitBreakerWithConfig(name string, cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HalfOpenMaxSuccesses == 0 {
		cfg.HalfOpenMaxSuccesses = def.HalfOpenMaxSuccesses
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= cfg.MaxFailures },
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm: circuit breaker state change",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})}
}

// Do runs fn through the breaker. A context that is already done fails
// without calling fn and counts as a failure.
func (b *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		b.failures.Add(1)
		return err
	}
	_, err := b.cb.Execute(func() (interface{}, error) { return nil, fn(ctx) })
	if err != nil {
		b.failures.Add(1)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrCircuitOpen
		}
		return err
	}
	b.successes.Add(1)
	return nil
}

// State returns "closed", "open" or "half-open".
func (b *CircuitBreaker) State() string {
	return b.cb.State().String()
}

// Metrics returns a snapshot of the counters.
func (b *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	counts := b.cb.Counts()
	s, f := b.successes.Load(), b.failures.Load()
	return CircuitBreakerMetrics{
		TotalRequests:        s + f,
		TotalSuccesses:       s,
		TotalFailures:        f,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}
