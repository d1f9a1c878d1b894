// Package external holds the clients for the billing provider, the messaging
// gateway and the email providers. Every HTTP call goes through BaseClient.
package external

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"feedbackgate/internal/types"
)

const (
	userAgent = "FeedbackGate/1.0"

	// Consecutive upstream failures before the breaker opens.
	defaultTripAfter = 5
	// How long an open breaker rejects calls before probing again.
	defaultOpenFor = 30 * time.Second
)

// BaseClient makes exactly one attempt per call. Lifecycle jobs never retry
// inside a run; the next scheduled tick is the retry. A circuit breaker per
// upstream stops a run from spending its whole deadline on a dead provider.
type BaseClient struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	userAgent string
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*baseClientOptions)

type baseClientOptions struct {
	tripAfter uint32
	openFor   time.Duration
	userAgent string
	breaker   *gobreaker.CircuitBreaker[*http.Response]
}

// WithTripAfter sets how many consecutive failures open the breaker.
func WithTripAfter(n uint32) BaseClientOption {
	return func(o *baseClientOptions) { o.tripAfter = n }
}

// WithOpenFor sets how long the breaker stays open.
func WithOpenFor(d time.Duration) BaseClientOption {
	return func(o *baseClientOptions) { o.openFor = d }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) BaseClientOption {
	return func(o *baseClientOptions) { o.userAgent = ua }
}

// WithBreaker shares an existing breaker, e.g. between two clients of the
// same upstream.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) BaseClientOption {
	return func(o *baseClientOptions) { o.breaker = cb }
}

// NewBaseClient wraps httpClient with a breaker named after the upstream.
func NewBaseClient(httpClient *http.Client, upstream string, opts ...BaseClientOption) *BaseClient {
	o := baseClientOptions{tripAfter: defaultTripAfter, openFor: defaultOpenFor, userAgent: userAgent}
	for _, opt := range opts {
		opt(&o)
	}

	cb := o.breaker
	if cb == nil {
		tripAfter := o.tripAfter
		cb = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        upstream,
			MaxRequests: 1,
			Timeout:     o.openFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= tripAfter
			},
		})
	}
	return &BaseClient{client: httpClient, breaker: cb, userAgent: o.userAgent}
}

// errUpstreamStatus marks a response the breaker should count as a failure.
type errUpstreamStatus struct{ status int }

func (e errUpstreamStatus) Error() string { return fmt.Sprintf("upstream returned %d", e.status) }

// Do sends req once. It sets X-Run-Id from the context and the User-Agent.
//
// Responses below 500 other than 429 are returned to the caller, who must
// close the body and map provider-specific 4xx errors. 429, 5xx, transport
// failures and an open breaker come back as *types.AppError with a nil
// response.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if runID := types.GetRunID(req.Context()); runID != "" {
		req.Header.Set("X-Run-Id", runID)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return r, errUpstreamStatus{status: r.StatusCode}
		}
		return r, nil
	})
	if err == nil {
		return resp, nil
	}
	if resp != nil {
		resp.Body.Close()
	}
	return nil, classify(req.Context(), resp, err)
}

func classify(ctx context.Context, resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker open", err)
	}

	if resp != nil {
		details := map[string]any{"status": resp.StatusCode}
		if ra := retryAfter(resp); ra > 0 {
			details["retry_after_seconds"] = int(ra.Seconds())
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return types.NewAppErrorWithDetails(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err, details)
		}
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("upstream returned %d", resp.StatusCode), err, details)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewAppError(types.ErrCodeUpstreamTimeout, "upstream request timed out", err)
	}
	return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
}

// retryAfter reads a Retry-After header in either seconds or HTTP-date form.
// The value is only reported; nothing waits on it.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
