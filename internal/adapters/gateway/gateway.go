// Package gateway is the resilient HTTP layer every upstream fetcher goes through.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/TeneoProtocolAI/agent-network/internal/observability"
)

const (
	DefaultTimeout     = 8 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultMultiplier  = 3.0
	DefaultJitter      = 500 * time.Millisecond
)

// StatusError is returned when a request ends on a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500
}

// Client wraps resty with per-request timeouts and exponential backoff.
type Client struct {
	http        *resty.Client
	maxAttempts int
	base        time.Duration
	multiplier  float64
	jitter      time.Duration
	metrics     *observability.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the hard per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// WithMaxAttempts sets the default attempt budget used by Get and PostJSON.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the backoff curve: base * multiplier^attempt + rand[0, jitter).
func WithBackoff(base time.Duration, multiplier float64, jitter time.Duration) Option {
	return func(c *Client) {
		c.base = base
		c.multiplier = multiplier
		c.jitter = jitter
	}
}

// WithHTTPClient swaps the underlying transport, mostly for httptest servers.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		timeout := c.http.GetClient().Timeout
		c.http = resty.NewWithClient(hc)
		if timeout > 0 {
			c.http.SetTimeout(timeout)
		}
	}
}

// WithMetrics records request outcomes and retries.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a gateway client.
func New(opts ...Option) *Client {
	c := &Client{
		http:        resty.New().SetTimeout(DefaultTimeout),
		maxAttempts: DefaultMaxAttempts,
		base:        DefaultBackoffBase,
		multiplier:  DefaultMultiplier,
		jitter:      DefaultJitter,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.SetHeader("Accept", "application/json")
	return c
}

// Get is FetchWithRetry with the client's default attempt budget.
func (c *Client) Get(ctx context.Context, url string) (*resty.Response, error) {
	return c.FetchWithRetry(ctx, url, c.maxAttempts)
}

// FetchWithRetry issues a GET. Network errors and 5xx are retried with backoff;
// 2xx and 4xx responses are returned immediately. When every attempt fails the
// last error is returned.
func (c *Client) FetchWithRetry(ctx context.Context, url string, maxAttempts int) (*resty.Response, error) {
	return c.do(ctx, maxAttempts, func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).Get(url)
	})
}

// PostJSON sends body as JSON and decodes a 2xx response into out. Retries follow
// the same policy as FetchWithRetry; a 4xx is returned as a *StatusError.
func (c *Client) PostJSON(ctx context.Context, url string, body, out any) error {
	resp, err := c.do(ctx, c.maxAttempts, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post(url)
	})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return &StatusError{URL: url, StatusCode: resp.StatusCode()}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", url, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, maxAttempts int, send func() (*resty.Response, error)) (*resty.Response, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := send()
		switch {
		case err != nil:
			lastErr = err
			c.metrics.ObserveRequest("error")
		case resp.StatusCode() >= 400 && resp.StatusCode() < 500:
			c.metrics.ObserveRequest("client_error")
			return resp, nil
		case resp.IsSuccess():
			c.metrics.ObserveRequest("ok")
			return resp, nil
		default:
			lastErr = &StatusError{URL: resp.Request.URL, StatusCode: resp.StatusCode()}
			c.metrics.ObserveRequest("server_error")
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < maxAttempts-1 {
			wait := c.Backoff(attempt)
			log.Debug().Err(lastErr).Int("attempt", attempt+1).Dur("wait", wait).Msg("gateway retry")
			c.metrics.ObserveRetry()
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// Backoff returns the wait after the given zero-based attempt.
func (c *Client) Backoff(attempt int) time.Duration {
	d := time.Duration(float64(c.base) * math.Pow(c.multiplier, float64(attempt)))
	if c.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(c.jitter)))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// IsTransient reports whether err came from a retryable condition.
func IsTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return err != nil
}
