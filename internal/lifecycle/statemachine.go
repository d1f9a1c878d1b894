package lifecycle

import (
	"fmt"

	"feedbackgate/internal/types"
)

// Transition is one applied (or proposed) move of an account's status.
type Transition struct {
	From    types.AccountStatus
	To      types.AccountStatus
	Trigger types.TransitionTrigger
}

// IsNoop reports whether the transition leaves the status unchanged.
func (t Transition) IsNoop() bool {
	return t.From == t.To
}

// Deactivates reports whether the transition must cascade into resource
// deactivation, and for which reason. Only moves from an entitled state into
// canceled or expired qualify.
func (t Transition) Deactivates() (types.DeactivationReason, bool) {
	if t.IsNoop() || !t.To.IsDeactivated() || t.From.IsDeactivated() {
		return "", false
	}
	switch t.Trigger {
	case types.TriggerTrialElapsed:
		return types.ReasonTrialExpired, true
	case types.TriggerProviderCanceled:
		return types.ReasonSubscriptionCanceled, true
	case types.TriggerProviderUnpaid:
		return types.ReasonPaymentFailed, true
	default:
		return "", false
	}
}

// Reactivates reports whether the transition must cascade into resource
// reactivation. trialing -> active is a plain upgrade: nothing was
// deactivated, so nothing is reactivated.
func (t Transition) Reactivates() bool {
	if t.To != types.AccountStatusActive {
		return false
	}
	switch t.From {
	case types.AccountStatusExpired, types.AccountStatusCanceled, types.AccountStatusPastDue:
		return true
	default:
		return false
	}
}

// transitionTable maps trigger -> allowed current statuses -> next status.
var transitionTable = map[types.TransitionTrigger]map[types.AccountStatus]types.AccountStatus{
	types.TriggerTrialElapsed: {
		types.AccountStatusTrialing: types.AccountStatusExpired,
	},
	types.TriggerProviderCanceled: {
		types.AccountStatusTrialing: types.AccountStatusCanceled,
		types.AccountStatusActive:   types.AccountStatusCanceled,
		types.AccountStatusPastDue:  types.AccountStatusCanceled,
	},
	types.TriggerProviderUnpaid: {
		types.AccountStatusTrialing: types.AccountStatusExpired,
		types.AccountStatusActive:   types.AccountStatusExpired,
		types.AccountStatusPastDue:  types.AccountStatusExpired,
	},
	types.TriggerProviderPastDue: {
		types.AccountStatusTrialing: types.AccountStatusPastDue,
		types.AccountStatusActive:   types.AccountStatusPastDue,
	},
	types.TriggerProviderActive: {
		types.AccountStatusFree:     types.AccountStatusActive,
		types.AccountStatusTrialing: types.AccountStatusActive,
		types.AccountStatusActive:   types.AccountStatusActive,
		types.AccountStatusPastDue:  types.AccountStatusActive,
		types.AccountStatusCanceled: types.AccountStatusActive,
		types.AccountStatusExpired:  types.AccountStatusActive,
	},
	types.TriggerStartTrial: {
		types.AccountStatusFree: types.AccountStatusTrialing,
	},
}

// terminalForTrigger is the status a trigger drives towards. Observing the
// trigger while already there is a same-state no-op rather than a rejection.
var terminalForTrigger = map[types.TransitionTrigger]types.AccountStatus{
	types.TriggerTrialElapsed:     types.AccountStatusExpired,
	types.TriggerProviderCanceled: types.AccountStatusCanceled,
	types.TriggerProviderUnpaid:   types.AccountStatusExpired,
	types.TriggerProviderPastDue:  types.AccountStatusPastDue,
	types.TriggerProviderActive:   types.AccountStatusActive,
	types.TriggerStartTrial:       types.AccountStatusTrialing,
}

// Next applies trigger to current. Transitions outside the table return an
// AppError wrapping types.ErrInvalidTransition.
func Next(current types.AccountStatus, trigger types.TransitionTrigger) (Transition, error) {
	if next, ok := transitionTable[trigger][current]; ok {
		return Transition{From: current, To: next, Trigger: trigger}, nil
	}
	if target, ok := terminalForTrigger[trigger]; ok && target == current {
		return Transition{From: current, To: current, Trigger: trigger}, nil
	}
	return Transition{}, types.NewAppErrorWithDetails(
		types.ErrCodeConflictTransition,
		fmt.Sprintf("cannot apply %s to status %s", trigger, current),
		types.ErrInvalidTransition,
		map[string]any{"from": string(current), "trigger": string(trigger)},
	)
}

// TriggerForProviderStatus maps a raw billing provider status onto a state
// machine trigger. The boolean is false for statuses that leave the account
// unchanged (trialing, incomplete, paused, and anything unknown).
func TriggerForProviderStatus(status string) (types.TransitionTrigger, bool) {
	switch status {
	case "active", "current":
		return types.TriggerProviderActive, true
	case "canceled":
		return types.TriggerProviderCanceled, true
	case "past_due":
		return types.TriggerProviderPastDue, true
	case "unpaid":
		return types.TriggerProviderUnpaid, true
	default:
		return "", false
	}
}
