package external

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"feedbackgate/internal/types"
)

// ---------------------------------------------------------------------------
// Stub Implementations
//
// Stubs let the worker boot with APP_ENV=local without real vendor
// credentials. They log every call and return predictable, safe values.
// ---------------------------------------------------------------------------

// StubBillingProvider implements BillingProvider by reporting every
// subscription as active with a period end thirty days out.
type StubBillingProvider struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewStubBillingProvider creates a new StubBillingProvider.
func NewStubBillingProvider(logger *slog.Logger) *StubBillingProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubBillingProvider{logger: logger, now: time.Now}
}

func (s *StubBillingProvider) GetSubscription(ctx context.Context, ref string) (types.ProviderSubscription, error) {
	s.logger.InfoContext(ctx, "stub: GetSubscription called",
		"subscription_ref", ref,
	)
	return types.ProviderSubscription{
		Ref:              ref,
		Status:           "active",
		CurrentPeriodEnd: s.now().UTC().AddDate(0, 0, 30).Truncate(time.Second),
	}, nil
}

// StubMessagingGateway implements MessagingGateway by logging the call.
type StubMessagingGateway struct {
	logger *slog.Logger
}

// NewStubMessagingGateway creates a new StubMessagingGateway.
func NewStubMessagingGateway(logger *slog.Logger) *StubMessagingGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubMessagingGateway{logger: logger}
}

func (s *StubMessagingGateway) Disconnect(ctx context.Context, instanceName string, token types.SecretString) error {
	s.logger.InfoContext(ctx, "stub: Disconnect called",
		"instance_name", instanceName,
		"token", token,
	)
	return nil
}

// StubEmailProvider implements EmailProvider by logging calls and returning
// a fake message ID.
type StubEmailProvider struct {
	logger *slog.Logger
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	s.logger.InfoContext(ctx, "stub: Send email called",
		"to", input.To,
		"subject", input.Subject,
		"template_id", input.TemplateID,
		"from", input.From.Address,
	)
	return fmt.Sprintf("msg_stub_%s", input.ReferenceID), nil
}

// Compile-time assertions.
var (
	_ BillingProvider  = (*StubBillingProvider)(nil)
	_ MessagingGateway = (*StubMessagingGateway)(nil)
	_ EmailProvider    = (*StubEmailProvider)(nil)
)
