package httpcache

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/sandrolain/httpfilecache/filestore"
	"github.com/sandrolain/httpfilecache/metrics"
)

// TransportOption is a function that configures a Transport. Use the
// With* functions to create TransportOptions.
type TransportOption func(*Transport) error

// WithNext sets the underlying RoundTripper used to forward requests that
// are not served from cache. If nil, http.DefaultTransport is used.
func WithNext(rt http.RoundTripper) TransportOption {
	return func(t *Transport) error {
		t.Next = rt
		return nil
	}
}

// WithMaxEntries sets the soft cap on permanent entries under root,
// enforced lazily by the periodic purge. Default: 1000.
func WithMaxEntries(n int) TransportOption {
	return func(t *Transport) error {
		if n <= 0 {
			return fmt.Errorf("httpcache: MaxEntries must be positive")
		}
		t.MaxEntries = n
		return nil
	}
}

// WithDefaultInitialExpiration overrides the expiration applied to freshly
// stored entries that lack a max-age directive. Default: 2 days.
func WithDefaultInitialExpiration(d time.Duration) TransportOption {
	return func(t *Transport) error {
		t.initialExpiration = d
		return nil
	}
}

// WithDefaultRefreshExpiration overrides the expiration applied to
// refreshes that lack an explicit new max-age. Default: 2 days.
func WithDefaultRefreshExpiration(d time.Duration) TransportOption {
	return func(t *Transport) error {
		t.refreshExpiration = d
		return nil
	}
}

// WithRequireJwtToken configures whether an un-parseable bearer token
// yields no cache key instead of falling back to the raw Authorization
// header value. Default: false.
func WithRequireJwtToken(require bool) TransportOption {
	return func(t *Transport) error {
		t.RequireJWT = require
		return nil
	}
}

// WithClock injects a time source for deterministic tests. Default: the
// system clock.
func WithClock(c Clock) TransportOption {
	return func(t *Transport) error {
		if c == nil {
			return fmt.Errorf("httpcache: clock must not be nil")
		}
		t.Clock = c
		return nil
	}
}

// WithCompression selects the algorithm used to store response bodies on
// disk. Default: NoCompression.
func WithCompression(c filestore.Compression) TransportOption {
	return func(t *Transport) error {
		t.compression = c
		return nil
	}
}

// WithEncryptionPassphrase enables AES-256-GCM at-rest encryption of
// metadata and bodies, deriving the key from passphrase via scrypt.
// Disabled by default.
func WithEncryptionPassphrase(passphrase string) TransportOption {
	return func(t *Transport) error {
		if passphrase == "" {
			return fmt.Errorf("httpcache: encryption passphrase must not be empty")
		}
		t.encryptionPassphrase = passphrase
		return nil
	}
}

// WithMetricsCollector sets the collector observing store lookups,
// publishes, and purges. Default: metrics.NoOpCollector.
func WithMetricsCollector(c metrics.Collector) TransportOption {
	return func(t *Transport) error {
		if c == nil {
			return fmt.Errorf("httpcache: metrics collector must not be nil")
		}
		t.Metrics = c
		return nil
	}
}

// WithLogger sets a custom slog.Logger instance. If not set, slog.Default()
// is used.
func WithLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) error {
		t.Logger = l
		return nil
	}
}

// resilienceConfig holds optional retry/circuit-breaker policies wrapped
// around the forwarded origin request only, never around cache I/O.
type resilienceConfig struct {
	retry   retrypolicy.RetryPolicy[*http.Response]
	breaker circuitbreaker.CircuitBreaker[*http.Response]
}

func (r *resilienceConfig) execute(fn func() (*http.Response, error)) (*http.Response, error) {
	var policies []failsafe.Policy[*http.Response]
	if r.retry != nil {
		policies = append(policies, r.retry)
	}
	if r.breaker != nil {
		policies = append(policies, r.breaker)
	}
	if len(policies) == 0 {
		return fn()
	}
	return failsafe.With(policies...).Get(fn)
}

// RetryPolicyBuilder creates a pre-configured retry policy builder for
// resilient origin sends: retries on network errors and 5xx, up to three
// retries (four attempts in all), exponential backoff from 100ms to 10s.
func RetryPolicyBuilder() retrypolicy.Builder[*http.Response] {
	return retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(r *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return r != nil && r.StatusCode >= 500
		}).
		WithMaxRetries(3).
		WithBackoff(100*time.Millisecond, 10*time.Second)
}

// CircuitBreakerBuilder creates a pre-configured circuit breaker builder
// for resilient origin sends: opens after five consecutive failures,
// half-opens after sixty seconds, closes after two consecutive successes.
func CircuitBreakerBuilder() circuitbreaker.Builder[*http.Response] {
	return circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(r *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return r != nil && r.StatusCode >= 500
		}).
		WithFailureThreshold(5).
		WithSuccessThreshold(2).
		WithDelay(60 * time.Second)
}

// WithResilience wraps the forwarded origin send in the given retry and/or
// circuit-breaker policies, built with failsafe-go. Either may be nil.
// Disabled by default.
func WithResilience(retry retrypolicy.RetryPolicy[*http.Response], breaker circuitbreaker.CircuitBreaker[*http.Response]) TransportOption {
	return func(t *Transport) error {
		if retry == nil && breaker == nil {
			return nil
		}
		t.resilience = &resilienceConfig{retry: retry, breaker: breaker}
		return nil
	}
}
