package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"feedbackgate/internal/types"
)

const (
	stripeAPIBase = "https://api.stripe.com"

	stripeMaxErrorBody = 16 << 10
)

// StripeClientConfig configures a StripeClient. BaseURL is for tests.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string
	Logger    *slog.Logger
}

// StripeClient is the BillingProvider backed by Stripe. Reconciliation only
// reads, so the single call it makes is a subscription retrieve.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	root      string
	logger    *slog.Logger
}

func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	return NewStripeClientWithBase(NewBaseClient(httpClient, "stripe"), cfg)
}

func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	root := cfg.BaseURL
	if root == "" {
		root = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{base: base, secretKey: cfg.SecretKey, root: strings.TrimSuffix(root, "/"), logger: logger}
}

// subscriptionBody is the part of a Stripe subscription the reconciler reads.
// current_period_end moved from the subscription onto its items in newer API
// versions; both places are read.
type subscriptionBody struct {
	ID               string                    `json:"id"`
	Status           stripe.SubscriptionStatus `json:"status"`
	CurrentPeriodEnd int64                     `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func (b subscriptionBody) periodEnd() time.Time {
	end := b.CurrentPeriodEnd
	for _, it := range b.Items.Data {
		end = max(end, it.CurrentPeriodEnd)
	}
	if end <= 0 {
		return time.Time{}
	}
	return time.Unix(end, 0).UTC()
}

// GetSubscription fetches ref and reduces it to status and period end.
// Statuses Stripe does not document are passed through with a warning; the
// reconciler treats them as unmapped.
func (s *StripeClient) GetSubscription(ctx context.Context, ref string) (types.ProviderSubscription, error) {
	if ref == "" {
		return types.ProviderSubscription{}, types.NewAppError(types.ErrCodeInternalUnexpected, "empty subscription reference", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.root+"/v1/subscriptions/"+url.PathEscape(ref), nil)
	if err != nil {
		return types.ProviderSubscription{}, types.NewAppError(types.ErrCodeInternalUnexpected, "building stripe request", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	resp, err := s.base.Do(req)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return types.ProviderSubscription{}, err
		}
		return types.ProviderSubscription{}, types.NewAppError(types.ErrCodeUpstreamBilling, "stripe request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.ProviderSubscription{}, stripeFailure(ref, resp)
	}

	var body subscriptionBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return types.ProviderSubscription{}, types.NewAppError(types.ErrCodeUpstreamBilling, "decoding stripe subscription", err)
	}
	if !isKnownSubscriptionStatus(string(body.Status)) {
		s.logger.WarnContext(ctx, "unrecognized stripe subscription status", "subscription_ref", ref, "status", body.Status)
	}
	return types.ProviderSubscription{Ref: body.ID, Status: string(body.Status), CurrentPeriodEnd: body.periodEnd()}, nil
}

// stripeFailure maps a non-200 Stripe reply that BaseClient let through
// (every 4xx except 429) to upstream_billing_unavailable, keeping Stripe's
// error type and code in the details.
func stripeFailure(ref string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, stripeMaxErrorBody))

	var envelope struct {
		Error *stripe.Error `json:"error"`
	}
	details := map[string]any{"status": resp.StatusCode, "subscription_ref": ref}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
		details["stripe_type"] = string(envelope.Error.Type)
		details["stripe_code"] = string(envelope.Error.Code)
		msg = envelope.Error.Msg
	}
	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamBilling,
		fmt.Sprintf("stripe returned %d: %s", resp.StatusCode, msg), nil, details)
}

func isKnownSubscriptionStatus(status string) bool {
	switch stripe.SubscriptionStatus(status) {
	case stripe.SubscriptionStatusActive,
		stripe.SubscriptionStatusCanceled,
		stripe.SubscriptionStatusIncomplete,
		stripe.SubscriptionStatusIncompleteExpired,
		stripe.SubscriptionStatusPastDue,
		stripe.SubscriptionStatusPaused,
		stripe.SubscriptionStatusTrialing,
		stripe.SubscriptionStatusUnpaid:
		return true
	}
	return false
}

var _ BillingProvider = (*StripeClient)(nil)
