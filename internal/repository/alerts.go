package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/alertops-platform/caseflow/internal/model"
)

// AlertRepository persists the lightweight raw-alert audit trail. One record
// per ingested alert, written whether or not a case came out of it.
type AlertRepository struct {
	db *sqlx.DB
}

// NewAlertRepository creates a new raw-alert repository.
func NewAlertRepository(db *sqlx.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Record inserts one raw-alert audit entry.
func (r *AlertRepository) Record(ctx context.Context, a *model.RawAlert) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO raw_alerts (id, fingerprint, rule_uid, status, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.Fingerprint, a.RuleUID, a.Status, a.Payload, a.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to record raw alert: %w", err)
	}
	return nil
}

// ListByFingerprint returns the newest raw alerts recorded for a fingerprint.
func (r *AlertRepository) ListByFingerprint(ctx context.Context, fingerprint string, limit int) ([]*model.RawAlert, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []dbRawAlert
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM raw_alerts
		WHERE fingerprint = $1
		ORDER BY received_at DESC
		LIMIT $2
	`, fingerprint, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw alerts: %w", err)
	}

	out := make([]*model.RawAlert, len(rows))
	for i := range rows {
		out[i] = &model.RawAlert{
			ID:          rows[i].ID,
			Fingerprint: rows[i].Fingerprint,
			RuleUID:     rows[i].RuleUID,
			Status:      rows[i].Status,
			Payload:     rows[i].Payload,
			ReceivedAt:  rows[i].ReceivedAt,
		}
	}
	return out, nil
}

type dbRawAlert struct {
	ID          string    `db:"id"`
	Fingerprint string    `db:"fingerprint"`
	RuleUID     string    `db:"rule_uid"`
	Status      string    `db:"status"`
	Payload     []byte    `db:"payload"`
	ReceivedAt  time.Time `db:"received_at"`
}
