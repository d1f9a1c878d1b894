package external

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"feedbackgate/internal/types"
)

func TestStubBillingProvider_ReportsActive(t *testing.T) {
	stub := NewStubBillingProvider(nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stub.now = func() time.Time { return fixed }

	sub, err := stub.GetSubscription(context.Background(), "sub_local")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if sub.Status != "active" || sub.Ref != "sub_local" {
		t.Errorf("unexpected subscription: %+v", sub)
	}
	if !sub.CurrentPeriodEnd.Equal(fixed.AddDate(0, 0, 30)) {
		t.Errorf("unexpected period end: %v", sub.CurrentPeriodEnd)
	}
}

func TestStubMessagingGateway_RedactsToken(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	stub := NewStubMessagingGateway(logger)
	if err := stub.Disconnect(context.Background(), "acme", types.SecretString("tok_live_secret")); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if strings.Contains(buf.String(), "tok_live_secret") {
		t.Errorf("token leaked into log output: %s", buf.String())
	}
}

func TestStubEmailProvider_ReturnsReferenceBasedID(t *testing.T) {
	stub := NewStubEmailProvider(nil)

	id, err := stub.Send(context.Background(), types.SendInput{To: "x@example.com", ReferenceID: "ref-9"})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if id != "msg_stub_ref-9" {
		t.Errorf("unexpected id: %s", id)
	}
}
