// Package backend implements the HTTP+SSE client that talks to a worker
// process: unary calls with retry/backoff/circuit-breaker, streaming NDJSON
// queries, and SSE-monitored long-running tasks.
package backend

import (
	"net/http"
	"strings"
	"time"

	"github.com/robosystems/graphplane/internal/errors"
)

// Config holds the recognized client options from spec.md §4.3.
type Config struct {
	BaseURL                 string
	APIKey                  string
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	RetryBackoff            float64
	MaxConnections          int
	MaxKeepaliveConnections int
	KeepaliveExpiry         time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	VerifySSL               bool
	Headers                 map[string]string
	HTTPClient              *http.Client
}

// DefaultConfig returns the client's documented defaults, mirroring the
// original client config's eager-validation contract: every timeout and
// retry knob has a sane floor even before Validate runs.
func DefaultConfig() Config {
	return Config{
		Timeout:                 30 * time.Second,
		MaxRetries:              3,
		RetryDelay:              1 * time.Second,
		RetryBackoff:            2.0,
		MaxConnections:          100,
		MaxKeepaliveConnections: 20,
		KeepaliveExpiry:         90 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   60 * time.Second,
		VerifySSL:               true,
	}
}

// Validate eagerly checks the config before the client issues its first
// call, the same way the original client config validated a required base
// URL and non-negative timeouts before use.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New(errors.CodeConfiguration, "backend client requires a base URL")
	}
	if c.Timeout < 0 {
		return errors.New(errors.CodeConfiguration, "backend client timeout must not be negative")
	}
	if c.MaxRetries < 0 {
		return errors.New(errors.CodeConfiguration, "backend client max_retries must not be negative")
	}
	if c.CircuitBreakerThreshold <= 0 {
		return errors.New(errors.CodeConfiguration, "backend client circuit_breaker_threshold must be positive")
	}
	return nil
}

// copyHTTPClientWithTimeout returns a shallow copy of base with Timeout
// set, never mutating the caller-provided instance. If base is nil, a new
// client is returned.
func copyHTTPClientWithTimeout(base *http.Client, timeout time.Duration) *http.Client {
	if base == nil {
		return &http.Client{Timeout: timeout}
	}
	copied := *base
	if copied.Timeout == 0 {
		copied.Timeout = timeout
	}
	return &copied
}
