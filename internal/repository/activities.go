package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/alertops-platform/caseflow/internal/model"
)

// ActivityRepository handles the append-only case activity trail.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository creates a new activity repository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

const activityInsert = `
	INSERT INTO case_activities (
		id, case_id, type, field, old_value, new_value, description, actor, timestamp
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9
	)
`

// Add appends one activity entry.
func (r *ActivityRepository) Add(ctx context.Context, a *model.CaseActivity) error {
	_, err := r.db.ExecContext(ctx, activityInsert,
		a.ID, a.CaseID, a.Type, a.Field, []byte(a.OldValue), []byte(a.NewValue),
		a.Description, a.Actor, a.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to add case activity: %w", err)
	}
	return nil
}

// List returns the newest activity entries for a case.
func (r *ActivityRepository) List(ctx context.Context, caseID string, limit int) ([]*model.CaseActivity, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []*model.CaseActivity
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, case_id, type, field, old_value, new_value, description, actor, timestamp
		FROM case_activities
		WHERE case_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, caseID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list case activities: %w", err)
	}
	return rows, nil
}
