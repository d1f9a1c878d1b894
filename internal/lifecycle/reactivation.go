package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedbackgate/internal/types"
)

// Reactivator restores an account's resources after it regains entitlement.
// Messaging instances go to pending, never open: the gateway may have
// revoked the session while the account was deactivated, so the owner must
// reconnect by hand.
type Reactivator struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewReactivator creates a Reactivator.
func NewReactivator(store Store, logger *slog.Logger) *Reactivator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reactivator{store: store, logger: logger, now: time.Now}
}

// Reactivate re-enables client pages, resets instances to pending and
// appends a resources_reactivated event. Steps run independently; errors are
// joined.
func (r *Reactivator) Reactivate(ctx context.Context, accountID string) error {
	log := types.LoggerFromContext(ctx, r.logger).With("account_id", accountID)
	var errs []error

	pages, err := r.store.SetPagesActiveByAccount(ctx, accountID, true)
	if err != nil {
		log.ErrorContext(ctx, "failed to reactivate client pages", "error", err)
		errs = append(errs, fmt.Errorf("reactivate pages: %w", err))
	}

	reset := 0
	instances, err := r.store.ListInstancesByAccount(ctx, accountID)
	if err != nil {
		log.ErrorContext(ctx, "failed to list messaging instances", "error", err)
		errs = append(errs, fmt.Errorf("list instances: %w", err))
	}
	for _, inst := range instances {
		if inst.Status == types.InstanceStatusPending {
			continue
		}
		if err := r.store.UpdateInstanceStatus(ctx, inst.ID, accountID, types.InstanceStatusPending); err != nil {
			log.ErrorContext(ctx, "failed to reset instance to pending",
				"instance_id", inst.ID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("instance %s: %w", inst.ID, err))
			continue
		}
		reset++
	}

	payload := map[string]any{
		"pages_activated": pages,
		"instances_reset": reset,
		"total_instances": len(instances),
		"reactivated_at":  r.now().UTC().Format(time.RFC3339),
	}
	if err := r.store.AppendEvent(ctx, accountID, types.EventResourcesReactivated, payload); err != nil {
		log.ErrorContext(ctx, "failed to append reactivation event", "error", err)
		errs = append(errs, fmt.Errorf("append reactivation event: %w", err))
	}

	log.InfoContext(ctx, "account resources reactivated",
		"pages_activated", pages,
		"instances_reset", reset,
	)

	return errors.Join(errs...)
}
