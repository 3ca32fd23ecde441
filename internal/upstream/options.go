package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mappy4ever/tcgsync/internal/logging"
)

const DefaultBaseURL = "https://api.tcgdex.net/v2/en"

// Waiter gates outbound requests. *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Option configures optional Client settings.
type Option func(*options) error

type options struct {
	baseURL          string
	httpClient       *http.Client
	timeout          time.Duration
	attempts         int
	baseDelay        time.Duration
	limiter          Waiter
	breakerThreshold int
	breakerCooldown  time.Duration
	log              *logging.Logger
}

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(o *options) error {
		baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if baseURL == "" {
			return fmt.Errorf("base URL cannot be empty")
		}
		o.baseURL = baseURL
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client. Overrides WithTimeout.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) error {
		if httpClient == nil {
			return fmt.Errorf("HTTP client cannot be nil")
		}
		o.httpClient = httpClient
		return nil
	}
}

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		o.timeout = timeout
		return nil
	}
}

// WithRetry sets the total attempt budget and the linear backoff unit: the
// wait after failed attempt n is n*baseDelay.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(o *options) error {
		if attempts < 1 {
			return fmt.Errorf("attempts must be at least 1, got %d", attempts)
		}
		if baseDelay < 0 {
			return fmt.Errorf("base delay must not be negative, got %v", baseDelay)
		}
		o.attempts = attempts
		o.baseDelay = baseDelay
		return nil
	}
}

// WithLimiter shares a rate limiter with the client. Wait is called once per
// resource fetch, never per retry.
func WithLimiter(l Waiter) Option {
	return func(o *options) error {
		o.limiter = l
		return nil
	}
}

// WithBreaker opens the circuit after threshold consecutive failed attempts.
// A threshold of 0 disables the breaker.
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(o *options) error {
		if threshold < 0 {
			return fmt.Errorf("breaker threshold must not be negative, got %d", threshold)
		}
		o.breakerThreshold = threshold
		o.breakerCooldown = cooldown
		return nil
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(o *options) error {
		o.log = l
		return nil
	}
}

func defaultOptions() *options {
	return &options{
		baseURL:          DefaultBaseURL,
		timeout:          30 * time.Second,
		attempts:         3,
		baseDelay:        time.Second,
		breakerThreshold: 20,
		breakerCooldown:  30 * time.Second,
	}
}
