package db

import (
	"context"

	"feedbackgate/internal/types"
)

// PageRepository flips the visibility flag of client pages. No other column
// is written.
type PageRepository struct {
	db DBTX
}

// NewPageRepository creates a new PageRepository.
func NewPageRepository(db DBTX) *PageRepository {
	return &PageRepository{db: db}
}

// SetPagesActiveByAccount sets active on every page of the account in one
// statement and returns the number of rows that changed. Pages already in
// the requested state are not rewritten.
func (r *PageRepository) SetPagesActiveByAccount(ctx context.Context, accountID string, active bool) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE client_pages
		 SET active = $2, updated_at = NOW()
		 WHERE account_id = $1 AND active IS DISTINCT FROM $2`,
		accountID,
		active,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to update page visibility", err)
	}
	return tag.RowsAffected(), nil
}
