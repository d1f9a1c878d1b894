package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"feedbackgate/internal/types"
)

// AccountRepository reads and mutates the subscription columns of the
// accounts table. Every status write is a compare-and-swap on the prior
// status so two overlapping job runs cannot both apply the same transition.
type AccountRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewAccountRepository creates a new AccountRepository. Rows skipped by a
// listing are reported on logger.
func NewAccountRepository(db DBTX, logger *slog.Logger) *AccountRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountRepository{db: db, logger: logger}
}

// errInvalidRow marks a row that scanned but holds a value the domain does
// not accept. Listings skip such rows instead of failing the whole batch.
var errInvalidRow = errors.New("invalid row")

const accountColumns = `id, email, name, subscription_status, plan, trial_ends_at,
	COALESCE(external_subscription_ref, ''), trial_reminder_level`

// scanAccount reads one row selected with accountColumns.
func scanAccount(row pgx.Row) (types.Account, error) {
	var (
		a      types.Account
		status string
	)
	if err := row.Scan(
		&a.ID,
		&a.Email,
		&a.Name,
		&status,
		&a.Plan,
		&a.TrialEndsAt,
		&a.ExternalSubscriptionRef,
		&a.TrialReminderLevel,
	); err != nil {
		return types.Account{}, err
	}
	parsed, err := types.ParseAccountStatus(status)
	if err != nil {
		return a, fmt.Errorf("%w: account %s: %w", errInvalidRow, a.ID, err)
	}
	a.Status = parsed
	return a, nil
}

func (r *AccountRepository) listAccounts(ctx context.Context, what string, sql string, args ...any) ([]types.Account, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list "+what, err)
	}
	defer rows.Close()

	var accounts []types.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if errors.Is(err, errInvalidRow) {
			r.logger.WarnContext(ctx, "skipping account row", "account_id", a.ID, "listing", what, "error", err)
			continue
		}
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan "+what, err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating "+what, err)
	}
	return accounts, nil
}

// ListTrialingAccountsExpiringIn returns trialing accounts whose trial ends on
// the UTC calendar day that is `days` days after now's day. An account whose
// trial ends at any time on that day has exactly `days` days remaining.
//
// SQL: SELECT ... FROM accounts
//
//	WHERE subscription_status = 'trialing'
//	  AND trial_ends_at >= $1 AND trial_ends_at < $2
func (r *AccountRepository) ListTrialingAccountsExpiringIn(ctx context.Context, now time.Time, days int) ([]types.Account, error) {
	lo, hi := DayWindow(now, days)
	return r.listAccounts(ctx, "trialing accounts",
		`SELECT `+accountColumns+`
		 FROM accounts
		 WHERE subscription_status = 'trialing'
		   AND trial_ends_at >= $1
		   AND trial_ends_at < $2
		 ORDER BY trial_ends_at, id`,
		lo, hi,
	)
}

// DayWindow returns the half-open [lo, hi) UTC interval covering the calendar
// day `days` days after now's day.
func DayWindow(now time.Time, days int) (time.Time, time.Time) {
	y, m, d := now.UTC().Date()
	lo := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
	return lo, lo.AddDate(0, 0, 1)
}

// ListExpiredTrialAccounts returns trialing accounts whose trial end is in
// the past relative to now.
//
// SQL: SELECT ... FROM accounts
//
//	WHERE subscription_status = 'trialing' AND trial_ends_at < $1
func (r *AccountRepository) ListExpiredTrialAccounts(ctx context.Context, now time.Time) ([]types.Account, error) {
	return r.listAccounts(ctx, "expired trial accounts",
		`SELECT `+accountColumns+`
		 FROM accounts
		 WHERE subscription_status = 'trialing'
		   AND trial_ends_at IS NOT NULL
		   AND trial_ends_at < $1
		 ORDER BY trial_ends_at, id`,
		now,
	)
}

// ListAccountsWithExternalRef returns every account tied to a billing
// provider subscription.
func (r *AccountRepository) ListAccountsWithExternalRef(ctx context.Context) ([]types.Account, error) {
	return r.listAccounts(ctx, "accounts with external subscription",
		`SELECT `+accountColumns+`
		 FROM accounts
		 WHERE external_subscription_ref IS NOT NULL
		   AND external_subscription_ref <> ''
		 ORDER BY id`,
	)
}

// deactivationSource is where an account's loss of entitlement was recorded
// for one deactivation reason.
type deactivationSource struct {
	status          types.AccountStatus
	transitionEvent string
}

var deactivationSources = map[types.DeactivationReason]deactivationSource{
	types.ReasonTrialExpired:         {types.AccountStatusExpired, types.EventTrialExpired},
	types.ReasonSubscriptionCanceled: {types.AccountStatusCanceled, types.EventBillingStatusChanged},
	types.ReasonPaymentFailed:        {types.AccountStatusExpired, types.EventBillingStatusChanged},
}

// ListAccountsPendingDeactivation returns accounts whose latest status
// transition was recorded for reason and that have no complete
// deactivation event for reason since. An event without a "complete" key
// counts as complete.
//
// SQL: SELECT ... FROM accounts a JOIN LATERAL (latest transition event) t
//
//	WHERE a.subscription_status = $1 AND t.event_type = $2
//	  AND NOT EXISTS (complete $3 event at or after t.created_at)
func (r *AccountRepository) ListAccountsPendingDeactivation(ctx context.Context, reason types.DeactivationReason) ([]types.Account, error) {
	src, ok := deactivationSources[reason]
	if !ok {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeInternalUnexpected,
			"unknown deactivation reason", nil, map[string]any{"reason": string(reason)})
	}
	return r.listAccounts(ctx, "accounts pending deactivation",
		`SELECT a.id, a.email, a.name, a.subscription_status, a.plan, a.trial_ends_at,
		        COALESCE(a.external_subscription_ref, ''), a.trial_reminder_level
		 FROM accounts a
		 JOIN LATERAL (
		     SELECT e.event_type, e.created_at
		     FROM subscription_events e
		     WHERE e.account_id = a.id
		       AND e.event_type IN ('`+types.EventTrialExpired+`', '`+types.EventBillingStatusChanged+`')
		     ORDER BY e.created_at DESC, e.id DESC
		     LIMIT 1
		 ) t ON true
		 WHERE a.subscription_status = $1
		   AND t.event_type = $2
		   AND NOT EXISTS (
		     SELECT 1
		     FROM subscription_events d
		     WHERE d.account_id = a.id
		       AND d.event_type = $3
		       AND d.created_at >= t.created_at
		       AND COALESCE(d.payload->>'complete', 'true') = 'true'
		 )
		 ORDER BY t.created_at, a.id`,
		string(src.status),
		src.transitionEvent,
		types.DeactivatedEventType(reason),
	)
}

// GetAccount fetches one account by ID. Returns not_found_account when no
// row matches.
func (r *AccountRepository) GetAccount(ctx context.Context, accountID string) (types.Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		accountID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Account{}, types.NewAppError(types.ErrCodeNotFoundAccount,
				fmt.Sprintf("account %s not found", accountID), err)
		}
		return types.Account{}, types.NewAppError(types.ErrCodeInternalDB, "failed to get account", err)
	}
	return a, nil
}

// UpdateSubscriptionStatus moves an account from `from` to `to` and, when
// periodEnd is non-nil, stores it in trial_ends_at. The write only applies
// if the stored status still equals `from`; the boolean reports whether it
// did.
//
// SQL: UPDATE accounts SET subscription_status = $3,
//
//	trial_ends_at = COALESCE($4, trial_ends_at), updated_at = NOW()
//	WHERE id = $1 AND subscription_status = $2
func (r *AccountRepository) UpdateSubscriptionStatus(
	ctx context.Context,
	accountID string,
	from, to types.AccountStatus,
	periodEnd *time.Time,
) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET subscription_status = $3,
		     trial_ends_at = COALESCE($4, trial_ends_at),
		     updated_at = NOW()
		 WHERE id = $1
		   AND subscription_status = $2`,
		accountID,
		string(from),
		string(to),
		periodEnd,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription status", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkReminderSent raises trial_reminder_level to level. The guard
// `trial_reminder_level < level` makes the write monotonic: a concurrent run
// that already recorded this or a later threshold turns it into a no-op,
// reported as false.
func (r *AccountRepository) MarkReminderSent(ctx context.Context, accountID string, level int) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET trial_reminder_level = $2,
		     updated_at = NOW()
		 WHERE id = $1
		   AND subscription_status = 'trialing'
		   AND trial_reminder_level < $2`,
		accountID,
		level,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark reminder sent", err)
	}
	return tag.RowsAffected() > 0, nil
}
