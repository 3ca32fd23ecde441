package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mappy4ever/tcgsync/internal/logging"
	"github.com/mappy4ever/tcgsync/internal/metrics"
)

// ErrUnavailable is returned once the retry budget for a resource is spent.
// A 404 is not an error: lookups return (nil, nil) for missing resources.
var ErrUnavailable = errors.New("upstream unavailable")

const maxBodyBytes = 8 << 20

type response struct {
	status int
	body   []byte
}

// Client is a read-only TCGdex API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	attempts   int
	baseDelay  time.Duration
	limiter    Waiter
	breaker    *gobreaker.CircuitBreaker[*response]
	log        *logging.Logger

	// wait sleeps between attempts; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new TCGdex API client.
func NewClient(opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.timeout}
	}
	log := o.log
	if log == nil {
		log = logging.Nop()
	}

	c := &Client{
		baseURL:    o.baseURL,
		httpClient: httpClient,
		attempts:   o.attempts,
		baseDelay:  o.baseDelay,
		limiter:    o.limiter,
		log:        log.WithComponent("upstream"),
		wait:       sleepCtx,
	}
	if o.breakerThreshold > 0 {
		c.breaker = newBreaker(o.breakerThreshold, o.breakerCooldown, c.log)
	}
	return c, nil
}

func newBreaker(threshold int, cooldown time.Duration, log *logging.Logger) *gobreaker.CircuitBreaker[*response] {
	const name = "tcgdex"
	metrics.BreakerState.WithLabelValues(name).Set(0)
	return gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			log.Warnw("upstream.breaker.state", map[string]any{"from": from.String(), "to": to.String()})
		},
	})
}

// SeriesList fetches /series.
func (c *Client) SeriesList(ctx context.Context) ([]SerieBrief, error) {
	var out []SerieBrief
	found, err := c.get(ctx, "series_list", "/series", &out)
	if err != nil || !found {
		return nil, err
	}
	return out, nil
}

// Serie fetches /series/{id}.
func (c *Client) Serie(ctx context.Context, id string) (*Serie, error) {
	var out Serie
	found, err := c.get(ctx, "serie", "/series/"+url.PathEscape(id), &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// Set fetches /sets/{id}.
func (c *Client) Set(ctx context.Context, id string) (*Set, error) {
	var out Set
	found, err := c.get(ctx, "set", "/sets/"+url.PathEscape(id), &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// Card fetches /cards/{id}.
func (c *Client) Card(ctx context.Context, id string) (*Card, error) {
	var out Card
	found, err := c.get(ctx, "card", "/cards/"+url.PathEscape(id), &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// get performs one rate-limited fetch with up to c.attempts attempts and
// decodes the body into out. It reports found=false for a 404.
func (c *Client) get(ctx context.Context, resource, path string, out any) (bool, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		res, err := c.attempt(ctx, resource, path)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, fmt.Errorf("fetching %s: %w", path, ctxErr)
		}
		if err == nil {
			if res.status == http.StatusNotFound {
				metrics.UpstreamRequests.WithLabelValues(resource, "not_found").Inc()
				return false, nil
			}
			if err = json.Unmarshal(res.body, out); err == nil {
				metrics.UpstreamRequests.WithLabelValues(resource, "found").Inc()
				return true, nil
			}
			err = fmt.Errorf("decoding response: %w", err)
		}
		lastErr = err

		if attempt < c.attempts {
			metrics.UpstreamRetries.WithLabelValues(resource).Inc()
			delay := time.Duration(attempt) * c.baseDelay
			if c.log.Enabled(logging.LevelDebug) {
				c.log.Debugw("upstream.retry", map[string]any{
					"path": path, "attempt": attempt, "delay_ms": delay.Milliseconds(), "error": err.Error(),
				})
			}
			if err := c.wait(ctx, delay); err != nil {
				return false, fmt.Errorf("fetching %s: %w", path, err)
			}
		}
	}

	metrics.UpstreamRequests.WithLabelValues(resource, "unavailable").Inc()
	c.log.Warnw("upstream.unavailable", map[string]any{"path": path, "attempts": c.attempts, "error": lastErr.Error()})
	return false, fmt.Errorf("%w: %s after %d attempts: %v", ErrUnavailable, path, c.attempts, lastErr)
}

// attempt issues a single GET. Non-2xx statuses other than 404 are errors so
// that the breaker counts them as failures.
func (c *Client) attempt(ctx context.Context, resource, path string) (*response, error) {
	start := time.Now()
	defer func() {
		metrics.UpstreamLatency.WithLabelValues(resource).Observe(time.Since(start).Seconds())
	}()

	do := func() (*response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "tcgsync")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusNotFound {
			_, _ = io.Copy(io.Discard, resp.Body)
			return &response{status: resp.StatusCode}, nil
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
		}
		return &response{status: resp.StatusCode, body: body}, nil
	}

	if c.breaker == nil {
		return do()
	}
	return c.breaker.Execute(do)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(" + strconv.Itoa(len(b)) + " bytes)"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
