package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbackgate/internal/types"
)

type recordingProvider struct {
	inputs []types.SendInput
	err    error
}

func (p *recordingProvider) Send(_ context.Context, input types.SendInput) (string, error) {
	p.inputs = append(p.inputs, input)
	if p.err != nil {
		return "", p.err
	}
	return "msg-1", nil
}

func newTestNotifier(p *recordingProvider, templates Templates) *Notifier {
	n := New(p, Config{
		From:      types.SenderIdentity{Name: "FeedbackGate", Address: "billing@feedbackgate.io"},
		Templates: templates,
	})
	n.newID = func() string { return "ref-fixed" }
	return n
}

func TestSendTrialReminder(t *testing.T) {
	p := &recordingProvider{}
	n := newTestNotifier(p, Templates{TrialReminder: "d-reminder"})

	err := n.SendTrialReminder(context.Background(), "owner@example.com", "Acme", 3)
	require.NoError(t, err)
	require.Len(t, p.inputs, 1)

	in := p.inputs[0]
	assert.Equal(t, types.EmailKindTrialReminder, in.Kind)
	assert.Equal(t, "owner@example.com", in.To)
	assert.Equal(t, "billing@feedbackgate.io", in.From.Address)
	assert.Equal(t, "d-reminder", in.TemplateID)
	assert.Equal(t, "ref-fixed", in.ReferenceID)
	assert.Equal(t, 3, in.TemplateData["days_remaining"])
	assert.Equal(t, "Your FeedbackGate trial ends in 3 days", in.Subject)
	assert.Contains(t, in.BodyText, "Hi Acme,")
	assert.Contains(t, in.BodyText, "ends in 3 days")
}

func TestSendTrialReminder_Subjects(t *testing.T) {
	assert.Equal(t, "Your FeedbackGate trial ends today", trialReminderSubject(0))
	assert.Equal(t, "Your FeedbackGate trial ends tomorrow", trialReminderSubject(1))
	assert.Equal(t, "Your FeedbackGate trial ends in 7 days", trialReminderSubject(7))
}

func TestSendServicesDeactivated(t *testing.T) {
	tests := []struct {
		reason types.DeactivationReason
		phrase string
	}{
		{types.ReasonTrialExpired, "Your free trial has ended"},
		{types.ReasonSubscriptionCanceled, "Your subscription was canceled"},
		{types.ReasonPaymentFailed, "We could not collect payment"},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			p := &recordingProvider{}
			n := newTestNotifier(p, Templates{})

			err := n.SendServicesDeactivated(context.Background(), "owner@example.com", "", tt.reason)
			require.NoError(t, err)
			require.Len(t, p.inputs, 1)

			in := p.inputs[0]
			assert.Equal(t, types.EmailKindServicesDeactivated, in.Kind)
			assert.Empty(t, in.TemplateID)
			assert.Equal(t, string(tt.reason), in.TemplateData["reason"])
			assert.Contains(t, in.BodyText, "Hi there,")
			assert.Contains(t, in.BodyText, tt.phrase)
		})
	}
}

func TestSend_ProviderErrorIsWrapped(t *testing.T) {
	upstream := types.NewAppError(types.ErrCodeEmailBlocked, "blocked", nil)
	p := &recordingProvider{err: upstream}
	n := newTestNotifier(p, Templates{})

	err := n.SendTrialReminder(context.Background(), "owner@example.com", "Acme", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, upstream))
	assert.Equal(t, types.ErrCodeEmailBlocked, types.CodeOf(err))
}

func TestSend_EmptyRecipient(t *testing.T) {
	p := &recordingProvider{}
	n := newTestNotifier(p, Templates{})

	err := n.SendServicesDeactivated(context.Background(), "", "Acme", types.ReasonTrialExpired)
	require.Error(t, err)
	assert.Empty(t, p.inputs)
}
