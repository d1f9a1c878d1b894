package notify

import (
	"fmt"
	"strings"

	"feedbackgate/internal/types"
)

func trialReminderSubject(days int) string {
	switch days {
	case 0:
		return "Your FeedbackGate trial ends today"
	case 1:
		return "Your FeedbackGate trial ends tomorrow"
	default:
		return fmt.Sprintf("Your FeedbackGate trial ends in %d days", days)
	}
}

func trialReminderBody(name string, days int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", displayName(name))
	switch days {
	case 0:
		b.WriteString("Your free trial ends today.")
	case 1:
		b.WriteString("Your free trial ends tomorrow.")
	default:
		fmt.Fprintf(&b, "Your free trial ends in %d days.", days)
	}
	b.WriteString(" Subscribe to keep your feedback pages and messaging integrations running.\n\n")
	b.WriteString("The FeedbackGate team\n")
	return b.String()
}

func servicesDeactivatedBody(name string, reason types.DeactivationReason) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", displayName(name))
	fmt.Fprintf(&b, "%s, so your feedback pages are now offline and your messaging instances have been disconnected.\n\n", reasonSentence(reason))
	b.WriteString("Your data is kept. Once your subscription is active again your pages come back automatically; messaging instances need to be reconnected from the dashboard.\n\n")
	b.WriteString("The FeedbackGate team\n")
	return b.String()
}

func reasonSentence(reason types.DeactivationReason) string {
	switch reason {
	case types.ReasonTrialExpired:
		return "Your free trial has ended"
	case types.ReasonSubscriptionCanceled:
		return "Your subscription was canceled"
	case types.ReasonPaymentFailed:
		return "We could not collect payment for your subscription"
	default:
		return "Your subscription is no longer active"
	}
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "there"
	}
	return name
}
