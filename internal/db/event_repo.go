package db

import (
	"context"

	"feedbackgate/internal/types"
)

// EventRepository appends to the subscription_events ledger. Rows are never
// updated or deleted.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// AppendEvent writes one ledger row.
func (r *EventRepository) AppendEvent(ctx context.Context, accountID, eventType string, payload map[string]any) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscription_events (account_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, NOW())`,
		accountID,
		eventType,
		types.EventPayload(payload),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append subscription event", err)
	}
	return nil
}

// ListEventsByAccount returns the ledger for one account, newest first.
func (r *EventRepository) ListEventsByAccount(ctx context.Context, accountID string, limit int) ([]types.SubscriptionEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, account_id, event_type, payload, created_at
		 FROM subscription_events
		 WHERE account_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		accountID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list subscription events", err)
	}
	defer rows.Close()

	var events []types.SubscriptionEvent
	for rows.Next() {
		var e types.SubscriptionEvent
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscription event", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating subscription events", err)
	}
	return events, nil
}
