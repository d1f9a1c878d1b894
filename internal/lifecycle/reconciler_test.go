package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbackgate/internal/types"
)

var (
	syncNow   = time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)
	periodEnd = time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
)

type reconcilerFixture struct {
	store       *memStore
	billing     *fakeBilling
	deactivator *spyDeactivator
	reactivator *spyReactivator
	metrics     *countingMetrics
	reconciler  *BillingReconciler
}

func newReconcilerFixture() *reconcilerFixture {
	f := &reconcilerFixture{
		store:       newMemStore(),
		billing:     &fakeBilling{subs: map[string]types.ProviderSubscription{}, errs: map[string]error{}},
		deactivator: &spyDeactivator{},
		reactivator: &spyReactivator{},
		metrics:     newCountingMetrics(),
	}
	f.reconciler = NewBillingReconciler(f.store, f.billing, f.deactivator, f.reactivator, BillingReconcilerConfig{
		CallTimeout: time.Second,
		Metrics:     f.metrics,
		Logger:      testLogger(),
	})
	return f
}

func (f *reconcilerFixture) account(id string, status types.AccountStatus, providerStatus string) {
	ref := "sub_" + id
	f.store.addAccount(types.Account{ID: id, Email: id + "@example.com", Status: status, ExternalSubscriptionRef: ref})
	f.billing.subs[ref] = types.ProviderSubscription{Ref: ref, Status: providerStatus, CurrentPeriodEnd: periodEnd}
}

func TestReconcile_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		from       types.AccountStatus
		provider   string
		want       types.AccountStatus
		deactivate types.DeactivationReason
		reactivate bool
	}{
		{"unpaid expires", types.AccountStatusActive, "unpaid", types.AccountStatusExpired, types.ReasonPaymentFailed, false},
		{"canceled cancels", types.AccountStatusPastDue, "canceled", types.AccountStatusCanceled, types.ReasonSubscriptionCanceled, false},
		{"past_due", types.AccountStatusActive, "past_due", types.AccountStatusPastDue, "", false},
		{"active from expired", types.AccountStatusExpired, "active", types.AccountStatusActive, "", true},
		{"active from canceled", types.AccountStatusCanceled, "active", types.AccountStatusActive, "", true},
		{"active from past_due", types.AccountStatusPastDue, "current", types.AccountStatusActive, "", true},
		{"active mid-trial", types.AccountStatusTrialing, "active", types.AccountStatusActive, "", false},
		{"active stays active", types.AccountStatusActive, "active", types.AccountStatusActive, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReconcilerFixture()
			f.account("acct", tt.from, tt.provider)

			summary, err := f.reconciler.Run(context.Background(), syncNow)
			require.NoError(t, err)
			assert.Equal(t, 1, summary.Succeeded)

			got := f.store.account("acct")
			assert.Equal(t, tt.want, got.Status)
			require.NotNil(t, got.TrialEndsAt)
			assert.True(t, got.TrialEndsAt.Equal(periodEnd))

			if tt.deactivate != "" {
				require.Len(t, f.deactivator.calls, 1)
				assert.Equal(t, tt.deactivate, f.deactivator.calls[0].Reason)
			} else {
				assert.Empty(t, f.deactivator.calls)
			}
			if tt.reactivate {
				assert.Equal(t, []string{"acct"}, f.reactivator.calls)
			} else {
				assert.Empty(t, f.reactivator.calls)
			}
		})
	}
}

func TestReconcile_RecordsStatusChangeEvent(t *testing.T) {
	f := newReconcilerFixture()
	f.account("acct", types.AccountStatusActive, "unpaid")

	_, err := f.reconciler.Run(context.Background(), syncNow)
	require.NoError(t, err)

	events := f.store.eventsOfType(types.EventBillingStatusChanged)
	require.Len(t, events, 1)
	assert.Equal(t, map[string]any{"from": "active", "to": "expired", "provider_status": "unpaid"}, events[0].Payload)
	assert.Equal(t, []string{"active->expired"}, f.metrics.transitions)
}

func TestReconcile_UnknownProviderStatusLeavesAccount(t *testing.T) {
	f := newReconcilerFixture()
	f.account("acct", types.AccountStatusTrialing, "incomplete")

	summary, err := f.reconciler.Run(context.Background(), syncNow)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, types.AccountStatusTrialing, f.store.account("acct").Status)
	assert.Nil(t, f.store.account("acct").TrialEndsAt)
	assert.Empty(t, f.store.events)
}

func TestReconcile_InvalidTransitionSkipped(t *testing.T) {
	f := newReconcilerFixture()
	f.account("acct", types.AccountStatusExpired, "past_due")

	summary, err := f.reconciler.Run(context.Background(), syncNow)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, types.AccountStatusExpired, f.store.account("acct").Status)
	assert.Empty(t, f.deactivator.calls)
}

func TestReconcile_AlreadyCanceledDoesNotDeactivateAgain(t *testing.T) {
	f := newReconcilerFixture()
	f.account("acct", types.AccountStatusCanceled, "canceled")

	summary, err := f.reconciler.Run(context.Background(), syncNow)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Empty(t, f.deactivator.calls)
	assert.Empty(t, f.store.eventsOfType(types.EventBillingStatusChanged))
}

func TestReconcile_UnfinishedDeactivationRetriedNextDay(t *testing.T) {
	store := newMemStore()
	store.addAccount(types.Account{ID: "C", Email: "c@example.com", Status: types.AccountStatusActive, ExternalSubscriptionRef: "sub_C"})
	store.addPage("page-1", "C", true)
	store.pagesErr = errors.New("pages table unavailable")
	billing := &fakeBilling{subs: map[string]types.ProviderSubscription{
		"sub_C": {Ref: "sub_C", Status: "canceled", CurrentPeriodEnd: periodEnd},
	}}
	reconciler := NewBillingReconciler(store,
		billing,
		newTestDeactivator(store, &fakeGateway{}, &fakeNotifier{}, nil),
		newTestReactivator(store),
		BillingReconcilerConfig{Logger: testLogger()},
	)

	summary, err := reconciler.Run(context.Background(), syncNow)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.Retried)
	assert.Equal(t, types.AccountStatusCanceled, store.account("C").Status)
	assert.True(t, store.pageActive("page-1"))

	store.mu.Lock()
	store.pagesErr = nil
	store.mu.Unlock()

	summary, err = reconciler.Run(context.Background(), syncNow.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retried)
	assert.Zero(t, summary.Failed)
	assert.False(t, store.pageActive("page-1"))
	assert.Len(t, store.eventsOfType(types.EventBillingStatusChanged), 1, "no second transition")

	summary, err = reconciler.Run(context.Background(), syncNow.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Zero(t, summary.Retried)
	assert.Len(t, store.eventsOfType("resources_deactivated_subscription_canceled"), 2)
}

func TestReconcile_RetriesOnlyMatchingReason(t *testing.T) {
	f := newReconcilerFixture()
	f.account("paid", types.AccountStatusActive, "unpaid")
	f.deactivator.err = errors.New("gateway down")

	_, err := f.reconciler.Run(context.Background(), syncNow)
	require.NoError(t, err)
	f.deactivator.err = nil

	summary, err := f.reconciler.Run(context.Background(), syncNow.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retried)
	assert.Equal(t, []deactivateCall{
		{AccountID: "paid", Reason: types.ReasonPaymentFailed},
		{AccountID: "paid", Reason: types.ReasonPaymentFailed},
	}, f.deactivator.calls)
}

func TestReconcile_ProviderErrorIsolated(t *testing.T) {
	f := newReconcilerFixture()
	f.account("bad", types.AccountStatusActive, "active")
	f.account("good", types.AccountStatusActive, "canceled")
	f.billing.errs["sub_bad"] = types.NewAppError(types.ErrCodeUpstreamTimeout, "billing provider timed out", context.DeadlineExceeded)

	summary, err := f.reconciler.Run(context.Background(), syncNow)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, types.AccountStatusCanceled, f.store.account("good").Status)
	assert.Equal(t, 2, f.billing.calls, "no retry within a run")
}

func TestReconcile_ListFailure(t *testing.T) {
	f := newReconcilerFixture()
	f.store.listErr = errors.New("db down")

	_, err := f.reconciler.Run(context.Background(), syncNow)
	require.Error(t, err)
}

func TestReconcile_ScenarioCanceledAccountReactivated(t *testing.T) {
	store := newMemStore()
	store.addAccount(types.Account{ID: "B", Status: types.AccountStatusCanceled, ExternalSubscriptionRef: "sub_B"})
	store.addPage("page-1", "B", false)
	billing := &fakeBilling{subs: map[string]types.ProviderSubscription{
		"sub_B": {Ref: "sub_B", Status: "active", CurrentPeriodEnd: periodEnd},
	}}
	gw := &fakeGateway{}
	reconciler := NewBillingReconciler(store,
		billing,
		newTestDeactivator(store, gw, &fakeNotifier{}, nil),
		newTestReactivator(store),
		BillingReconcilerConfig{Logger: testLogger()},
	)

	_, err := reconciler.Run(context.Background(), syncNow)
	require.NoError(t, err)

	assert.Equal(t, types.AccountStatusActive, store.account("B").Status)
	assert.True(t, store.pageActive("page-1"))
	events := store.eventsOfType(types.EventResourcesReactivated)
	require.Len(t, events, 1)
	assert.Equal(t, 0, events[0].Payload["instances_reset"])
	assert.Equal(t, 0, events[0].Payload["total_instances"])
	assert.Zero(t, gw.callCount())
}
