// Package resilience provides the circuit breaker and retry primitives
// shared by the backend client and the allocation manager's registry CAS
// loop, backed by github.com/sony/gobreaker/v2 and
// github.com/cenkalti/backoff/v4.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/robosystems/graphplane/internal/logging"
	"github.com/robosystems/graphplane/internal/metrics"
)

// State mirrors gobreaker's circuit states under control-plane naming.
type State int

const (
	StateClosed   State = State(gobreaker.StateClosed)
	StateHalfOpen State = State(gobreaker.StateHalfOpen)
	StateOpen     State = State(gobreaker.StateOpen)
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned when a call is rejected because the
	// breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when a half-open breaker has already
	// admitted its probe quota.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config configures a CircuitBreaker.
type Config struct {
	MaxFailures   int
	Timeout       time.Duration
	HalfOpenMax   int
	OnStateChange func(from, to State)
}

// DefaultConfig returns the breaker settings used for a typical backend
// instance endpoint: five consecutive failures trip it, thirty seconds
// before a half-open probe.
func DefaultConfig() Config {
	return Config{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		HalfOpenMax: 3,
	}
}

// CircuitBreaker wraps gobreaker.CircuitBreaker with an Execute(ctx, fn)
// signature matching the rest of the control plane's call sites.
type CircuitBreaker struct {
	gb *gobreaker.CircuitBreaker[any]
}

// New creates a CircuitBreaker from cfg, filling in defaults for any zero
// fields.
func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}

	maxFailures := uint32(cfg.MaxFailures)
	halfOpenMax := uint32(cfg.HalfOpenMax)

	settings := gobreaker.Settings{
		MaxRequests: halfOpenMax,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}

	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			cfg.OnStateChange(State(from), State(to))
		}
	}

	return &CircuitBreaker{gb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	return State(cb.gb.State())
}

// Execute runs fn under circuit breaker protection. ctx is accepted for
// call-site symmetry with Retry; timeouts on fn itself should still be
// enforced via context.
func (cb *CircuitBreaker) Execute(_ context.Context, fn func() error) error {
	_, err := cb.gb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err != nil {
		return mapGobreakerError(err)
	}
	return nil
}

func mapGobreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) {
		return ErrCircuitOpen
	}
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrTooManyRequests
	}
	return err
}

// RetryConfig configures exponential backoff retry.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

// DefaultRetryConfig returns a general-purpose backoff curve: three
// attempts, 100ms initial delay doubling up to 10s, 10% jitter. Registry
// CAS callers use RegistryCASRetryConfig and the backend client builds its
// own RetryConfig from backend.Config.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Retry executes fn with exponential backoff via cenkalti/backoff,
// respecting ctx cancellation between attempts.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		bo.InitialInterval = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		bo.MaxInterval = cfg.MaxDelay
	}
	if cfg.Multiplier > 0 {
		bo.Multiplier = cfg.Multiplier
	}
	if cfg.Jitter > 0 {
		bo.RandomizationFactor = cfg.Jitter
	} else {
		bo.RandomizationFactor = 0
	}
	bo.MaxElapsedTime = 0

	maxRetries := uint64(cfg.MaxAttempts - 1)
	withMax := backoff.WithMaxRetries(bo, maxRetries)
	withCtx := backoff.WithContext(withMax, ctx)

	return backoff.Retry(func() error {
		return fn()
	}, withCtx)
}

// BackendCBConfig returns a circuit breaker configuration for a backend
// instance endpoint identified by label, logging every state transition and,
// when m is non-nil, recording it as a metric.
func BackendCBConfig(log *logging.Logger, m *metrics.Metrics, label string) Config {
	cfg := DefaultConfig()
	cfg.OnStateChange = func(from, to State) {
		if log != nil {
			log.WithFields(map[string]interface{}{
				"from_state": from.String(),
				"to_state":   to.String(),
				"instance":   label,
			}).Warn("backend circuit breaker state changed")
		}
		if m != nil {
			m.SetCircuitBreakerState(label, float64(to))
			if to == StateOpen {
				m.RecordCircuitBreakerTrip(label)
			}
		}
	}
	return cfg
}

// RegistryCASRetryConfig returns the retry curve used for registry
// conditional-write contention (allocation lock acquisition, credit
// balance CAS updates): short initial delay, quick ceiling, since CAS
// contention should resolve in milliseconds, not seconds.
func RegistryCASRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}
