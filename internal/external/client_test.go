package external

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbackgate/internal/types"
)

// statusServer answers every request with status and counts the hits.
func statusServer(t *testing.T, status int, header map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		for k, v := range header {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"x"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testBase(opts ...BaseClientOption) *BaseClient {
	opts = append([]BaseClientOption{WithUserAgent("FeedbackGate-Test/1.0")}, opts...)
	return NewBaseClient(&http.Client{Timeout: 5 * time.Second}, "test", opts...)
}

func get(t *testing.T, ctx context.Context, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func TestDo_PassesThroughSuccess(t *testing.T) {
	srv, hits := statusServer(t, http.StatusOK, nil)

	resp, err := testBase().Do(get(t, context.Background(), srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"x"}`, string(body))
	assert.EqualValues(t, 1, hits.Load())
}

func TestDo_Headers(t *testing.T) {
	var runID, ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		runID = r.Header.Get("X-Run-Id")
		ua = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	ctx := types.WithRunID(context.Background(), "run_42")
	resp, err := testBase().Do(get(t, ctx, srv.URL))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "run_42", runID)
	assert.Equal(t, "FeedbackGate-Test/1.0", ua)

	resp, err = NewBaseClient(http.DefaultClient, "plain").Do(get(t, context.Background(), srv.URL))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, runID)
	assert.Equal(t, userAgent, ua)
}

func TestDo_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     map[string]string
		wantCode   types.ErrorCode
		retryAfter any
	}{
		{"server error", http.StatusBadGateway, nil, types.ErrCodeUpstreamUnavailable, nil},
		{"rate limited", http.StatusTooManyRequests, map[string]string{"Retry-After": "7"}, types.ErrCodeUpstreamRateLimited, 7},
		{"rate limited without header", http.StatusTooManyRequests, nil, types.ErrCodeUpstreamRateLimited, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := statusServer(t, tt.status, tt.header)

			resp, err := testBase().Do(get(t, context.Background(), srv.URL))
			assert.Nil(t, resp)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.CodeOf(err))
			assert.EqualValues(t, 1, hits.Load(), "exactly one attempt")

			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.status, appErr.Details["status"])
			assert.Equal(t, tt.retryAfter, appErr.Details["retry_after_seconds"])
		})
	}
}

func TestDo_ClientErrorsReturnedToCaller(t *testing.T) {
	srv, _ := statusServer(t, http.StatusNotFound, nil)

	resp, err := testBase().Do(get(t, context.Background(), srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDo_BreakerOpens(t *testing.T) {
	srv, hits := statusServer(t, http.StatusInternalServerError, nil)
	client := testBase(WithTripAfter(2), WithOpenFor(time.Minute))

	for range 2 {
		_, err := client.Do(get(t, context.Background(), srv.URL))
		assert.Equal(t, types.ErrCodeUpstreamUnavailable, types.CodeOf(err))
	}

	_, err := client.Do(get(t, context.Background(), srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.EqualValues(t, 2, hits.Load(), "open breaker must not reach the server")
}

func TestDo_4xxDoesNotTripBreaker(t *testing.T) {
	srv, hits := statusServer(t, http.StatusBadRequest, nil)
	client := testBase(WithTripAfter(1))

	for range 3 {
		resp, err := client.Do(get(t, context.Background(), srv.URL))
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.EqualValues(t, 3, hits.Load())
}

func TestDo_TransportErrors(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		srv, _ := statusServer(t, http.StatusOK, nil)
		url := srv.URL
		srv.Close()

		_, err := testBase().Do(get(t, context.Background(), url))
		assert.Equal(t, types.ErrCodeUpstreamUnavailable, types.CodeOf(err))
	})

	t.Run("deadline", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := testBase().Do(get(t, ctx, srv.URL))
		assert.Equal(t, types.ErrCodeUpstreamTimeout, types.CodeOf(err))
	})
}

func TestRetryAfter(t *testing.T) {
	mk := func(v string) *http.Response {
		h := http.Header{}
		if v != "" {
			h.Set("Retry-After", v)
		}
		return &http.Response{Header: h}
	}

	assert.Equal(t, 30*time.Second, retryAfter(mk("30")))
	assert.Zero(t, retryAfter(mk("")))
	assert.Zero(t, retryAfter(mk("-4")))
	assert.Zero(t, retryAfter(mk("soon")))
	assert.Zero(t, retryAfter(mk(time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat))))

	future := retryAfter(mk(time.Now().Add(2 * time.Minute).UTC().Format(http.TimeFormat)))
	assert.Greater(t, future, time.Minute)
	assert.LessOrEqual(t, future, 2*time.Minute)
}
