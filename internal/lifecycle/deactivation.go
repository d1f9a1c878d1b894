package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"feedbackgate/internal/external"
	"feedbackgate/internal/types"
)

// DeactivatorConfig tunes the deactivation cascade.
type DeactivatorConfig struct {
	// Concurrency bounds parallel gateway disconnects per account.
	Concurrency int
	// GatewayTimeout bounds each disconnect call.
	GatewayTimeout time.Duration
	// NotificationTimeout bounds the best-effort email.
	NotificationTimeout time.Duration

	Metrics Metrics
	Logger  *slog.Logger
}

// Deactivator cascades an account's loss of entitlement into its messaging
// instances and client pages.
//
// There is no transaction across steps. Each step runs even when an earlier
// one failed, and the errors are joined into the return value. Re-running
// is safe: instances already disconnected or expired and pages already
// inactive are left alone, while a fresh ledger event is appended.
type Deactivator struct {
	store    Store
	gateway  external.MessagingGateway
	notifier Notifier
	metrics  Metrics
	logger   *slog.Logger
	now      func() time.Time

	concurrency   int
	callTimeout   time.Duration
	notifyTimeout time.Duration
}

// NewDeactivator creates a Deactivator.
func NewDeactivator(store Store, gateway external.MessagingGateway, notifier Notifier, cfg DeactivatorConfig) *Deactivator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.NotificationTimeout <= 0 {
		cfg.NotificationTimeout = 10 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Deactivator{
		store:         store,
		gateway:       gateway,
		notifier:      notifier,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		now:           time.Now,
		concurrency:   cfg.Concurrency,
		callTimeout:   cfg.GatewayTimeout,
		notifyTimeout: cfg.NotificationTimeout,
	}
}

// Deactivate runs, in order: instance disconnects, page deactivation, the
// services-deactivated email, and the ledger event.
func (d *Deactivator) Deactivate(ctx context.Context, accountID string, reason types.DeactivationReason) (types.DeactivationResult, error) {
	log := types.LoggerFromContext(ctx, d.logger).With("account_id", accountID, "reason", string(reason))
	var errs []error

	// Step 1: Messaging instances.
	result, err := d.deactivateInstances(ctx, log, accountID)
	if err != nil {
		errs = append(errs, err)
	}

	// Step 2: Client pages, one bulk write.
	pages, err := d.store.SetPagesActiveByAccount(ctx, accountID, false)
	if err != nil {
		log.ErrorContext(ctx, "failed to deactivate client pages", "error", err)
		errs = append(errs, fmt.Errorf("deactivate pages: %w", err))
	}

	// Step 3: Best effort; never part of the returned error.
	d.notify(ctx, log, accountID, reason)

	// Step 4: Ledger. complete=false keeps the account listed as pending
	// deactivation so a later run re-drives the cascade.
	payload := map[string]any{
		"complete":               len(errs) == 0,
		"instances_disconnected": result.InstancesDisconnected,
		"instances_failed":       result.InstancesFailed,
		"total_instances":        result.TotalInstances,
		"pages_deactivated":      pages,
		"deactivated_at":         d.now().UTC().Format(time.RFC3339),
	}
	if err := d.store.AppendEvent(ctx, accountID, types.DeactivatedEventType(reason), payload); err != nil {
		log.ErrorContext(ctx, "failed to append deactivation event", "error", err)
		errs = append(errs, fmt.Errorf("append deactivation event: %w", err))
	}

	log.InfoContext(ctx, "account resources deactivated",
		"instances_disconnected", result.InstancesDisconnected,
		"instances_failed", result.InstancesFailed,
		"total_instances", result.TotalInstances,
		"pages_deactivated", pages,
	)

	return result, errors.Join(errs...)
}

// redrivePending re-runs the cascade for reason on every account whose
// earlier cascade did not complete. Accounts in attempted were already
// deactivated during this run and wait for the next one.
func redrivePending(
	ctx context.Context,
	log *slog.Logger,
	store AccountStore,
	deactivator Deactivation,
	reason types.DeactivationReason,
	attempted map[string]bool,
	summary *types.JobSummary,
) {
	accounts, err := store.ListAccountsPendingDeactivation(ctx, reason)
	if err != nil {
		log.ErrorContext(ctx, "failed to list accounts pending deactivation", "reason", string(reason), "error", err)
		return
	}
	for _, account := range accounts {
		if attempted[account.ID] {
			continue
		}
		summary.Processed++
		summary.Retried++
		if _, err := deactivator.Deactivate(ctx, account.ID, reason); err != nil {
			log.ErrorContext(ctx, "deactivation retry incomplete",
				"account_id", account.ID,
				"reason", string(reason),
				"error", err,
			)
			summary.Failed++
			continue
		}
		log.InfoContext(ctx, "deactivation retry complete", "account_id", account.ID, "reason", string(reason))
		summary.Succeeded++
	}
}

// deactivateInstances disconnects live instances and marks every
// non-terminal instance disconnected or expired. Each instance is isolated:
// one failure neither cancels nor skips its siblings.
func (d *Deactivator) deactivateInstances(ctx context.Context, log *slog.Logger, accountID string) (types.DeactivationResult, error) {
	instances, err := d.store.ListInstancesByAccount(ctx, accountID)
	if err != nil {
		log.ErrorContext(ctx, "failed to list messaging instances", "error", err)
		return types.DeactivationResult{}, fmt.Errorf("list instances: %w", err)
	}

	var (
		mu     sync.Mutex
		result = types.DeactivationResult{TotalInstances: len(instances)}
		errs   []error
	)

	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for _, inst := range instances {
		if inst.Status.IsTerminal() {
			continue
		}
		g.Go(func() error {
			status, attempted, remoteErr := d.disconnect(ctx, inst)

			outcome := types.OutcomeSkipped
			if attempted {
				outcome = types.OutcomeSuccess
				if remoteErr != nil {
					outcome = types.OutcomeFailure
					log.WarnContext(ctx, "gateway disconnect failed; expiring instance locally",
						"instance_id", inst.ID,
						"error", remoteErr,
					)
				}
			}
			d.metrics.RecordInstanceDisconnect(ctx, outcome)

			writeErr := d.store.UpdateInstanceStatus(ctx, inst.ID, accountID, status)
			if writeErr != nil {
				log.ErrorContext(ctx, "failed to update instance status",
					"instance_id", inst.ID,
					"status", string(status),
					"error", writeErr,
				)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case attempted && remoteErr == nil:
				result.InstancesDisconnected++
			case attempted:
				result.InstancesFailed++
			}
			if writeErr != nil {
				errs = append(errs, fmt.Errorf("instance %s: %w", inst.ID, writeErr))
			}
			return nil
		})
	}
	_ = g.Wait()

	return result, errors.Join(errs...)
}

// disconnect picks the instance's final status. Only instances holding a
// live session get a remote call, bounded by callTimeout.
func (d *Deactivator) disconnect(ctx context.Context, inst types.MessagingInstance) (types.InstanceStatus, bool, error) {
	if !inst.HasLiveSession() {
		return types.InstanceStatusExpired, false, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	if err := d.gateway.Disconnect(callCtx, inst.Name, inst.Token); err != nil {
		return types.InstanceStatusExpired, true, err
	}
	return types.InstanceStatusDisconnected, true, nil
}

// notify looks up the contact address and sends the services-deactivated
// email within notifyTimeout. Failures are logged and counted only.
func (d *Deactivator) notify(ctx context.Context, log *slog.Logger, accountID string, reason types.DeactivationReason) {
	account, err := d.store.GetAccount(ctx, accountID)
	if err != nil {
		log.WarnContext(ctx, "skipping deactivation notice; account lookup failed", "error", err)
		d.metrics.RecordNotification(ctx, types.EmailKindServicesDeactivated, types.OutcomeFailure)
		return
	}
	if account.Email == "" {
		log.WarnContext(ctx, "skipping deactivation notice; account has no email")
		d.metrics.RecordNotification(ctx, types.EmailKindServicesDeactivated, types.OutcomeSkipped)
		return
	}

	notifyCtx, cancel := context.WithTimeout(ctx, d.notifyTimeout)
	defer cancel()

	if err := d.notifier.SendServicesDeactivated(notifyCtx, account.Email, account.Name, reason); err != nil {
		log.WarnContext(ctx, "failed to send deactivation notice", "error", err)
		d.metrics.RecordNotification(ctx, types.EmailKindServicesDeactivated, types.OutcomeFailure)
		return
	}
	d.metrics.RecordNotification(ctx, types.EmailKindServicesDeactivated, types.OutcomeSuccess)
}
