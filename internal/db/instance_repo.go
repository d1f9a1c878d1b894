package db

import (
	"context"
	"fmt"
	"log/slog"

	"feedbackgate/internal/types"
)

// InstanceRepository provides data access for messaging_instances.
type InstanceRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewInstanceRepository creates a new InstanceRepository.
func NewInstanceRepository(db DBTX, logger *slog.Logger) *InstanceRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstanceRepository{db: db, logger: logger}
}

// ListInstancesByAccount returns every instance owned by the account. An
// instance with a status outside the known set is logged and left out; the
// rest of the account's instances are still returned.
func (r *InstanceRepository) ListInstancesByAccount(ctx context.Context, accountID string) ([]types.MessagingInstance, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, account_id, instance_name, COALESCE(token, ''), status
		 FROM messaging_instances
		 WHERE account_id = $1
		 ORDER BY created_at, id`,
		accountID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list instances", err)
	}
	defer rows.Close()

	var instances []types.MessagingInstance
	for rows.Next() {
		var (
			inst   types.MessagingInstance
			token  string
			status string
		)
		if err := rows.Scan(&inst.ID, &inst.AccountID, &inst.Name, &token, &status); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan instance", err)
		}
		parsed, err := types.ParseInstanceStatus(status)
		if err != nil {
			r.logger.WarnContext(ctx, "skipping instance with invalid status",
				"instance_id", inst.ID,
				"account_id", accountID,
				"error", err,
			)
			continue
		}
		inst.Token = types.SecretString(token)
		inst.Status = parsed
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating instances", err)
	}
	return instances, nil
}

// UpdateInstanceStatus sets the status of one instance. The account_id
// predicate keeps a stale instance ID from touching another tenant's row.
func (r *InstanceRepository) UpdateInstanceStatus(ctx context.Context, instanceID, accountID string, status types.InstanceStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE messaging_instances
		 SET status = $3, updated_at = NOW()
		 WHERE id = $1 AND account_id = $2`,
		instanceID,
		accountID,
		string(status),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update instance status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundInstance,
			fmt.Sprintf("instance %s not found for account %s", instanceID, accountID), nil)
	}
	return nil
}
