package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"feedbackgate/internal/types"
)

func newTestGatewayClient(t *testing.T, serverURL string) *GatewayClient {
	t.Helper()
	base := NewBaseClient(&http.Client{Timeout: 5 * time.Second}, "test-gateway", WithUserAgent("FeedbackGate-Test/1.0"))
	return NewGatewayClientWithBase(base, GatewayClientConfig{BaseURL: serverURL + "/"})
}

func TestGatewayDisconnect_Success(t *testing.T) {
	var receivedKey, receivedPath, receivedMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedKey = r.Header.Get("apikey")
		receivedPath = r.URL.Path
		receivedMethod = r.Method
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"SUCCESS","error":false}`))
	}))
	defer server.Close()

	client := newTestGatewayClient(t, server.URL)

	err := client.Disconnect(context.Background(), "acme-main", types.SecretString("tok_123"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodDelete {
		t.Errorf("expected DELETE, got %s", receivedMethod)
	}
	if receivedPath != "/instance/logout/acme-main" {
		t.Errorf("expected path /instance/logout/acme-main, got %s", receivedPath)
	}
	if receivedKey != "tok_123" {
		t.Errorf("expected apikey tok_123, got %s", receivedKey)
	}
}

func TestGatewayDisconnect_NotFoundIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestGatewayClient(t, server.URL)

	if err := client.Disconnect(context.Background(), "gone", types.SecretString("tok")); err != nil {
		t.Fatalf("expected 404 to be treated as success, got: %v", err)
	}
}

func TestGatewayDisconnect_ClientErrorMapsToGatewayCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":400,"error":"Bad Request","response":{"message":["instance is not connected"]}}`))
	}))
	defer server.Close()

	client := newTestGatewayClient(t, server.URL)

	err := client.Disconnect(context.Background(), "acme-main", types.SecretString("tok"))

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamGateway {
		t.Errorf("expected %s, got %s", types.ErrCodeUpstreamGateway, appErr.Code)
	}
	if appErr.Details["status"] != http.StatusBadRequest {
		t.Errorf("expected status detail 400, got %v", appErr.Details["status"])
	}
}

func TestGatewayDisconnect_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestGatewayClient(t, server.URL)

	err := client.Disconnect(context.Background(), "acme-main", types.SecretString("tok"))
	if code := types.CodeOf(err); code != types.ErrCodeUpstreamUnavailable {
		t.Errorf("expected %s, got %s", types.ErrCodeUpstreamUnavailable, code)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected exactly 1 call, got %d", n)
	}
}

func TestGatewayDisconnect_EmptyName(t *testing.T) {
	client := newTestGatewayClient(t, "http://127.0.0.1:1")

	if err := client.Disconnect(context.Background(), "", types.SecretString("tok")); err == nil {
		t.Fatal("expected error for empty instance name")
	}
}
