package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/alertops-platform/caseflow/internal/model"
)

// NotificationRepository persists the per-delivery notification audit trail.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts one notification record.
func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	query := `
		INSERT INTO notifications (
			id, recipient, channel, type, subject, message, status, error,
			case_id, sent_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.Recipient, n.Channel, string(n.Type), n.Subject, n.Message,
		n.Status, n.Error, n.CaseID, n.SentAt, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// UpdateStatus records the transport outcome for one notification.
func (r *NotificationRepository) UpdateStatus(ctx context.Context, id, status, errMsg string, sentAt *time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET status = $2, error = $3, sent_at = $4 WHERE id = $1
	`, id, status, errMsg, sentAt)
	if err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListByCase returns the notifications recorded for a case, newest first.
func (r *NotificationRepository) ListByCase(ctx context.Context, caseID string, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []dbNotification
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM notifications
		WHERE case_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, caseID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	out := make([]*model.Notification, len(rows))
	for i := range rows {
		out[i] = fromDBNotification(&rows[i])
	}
	return out, nil
}

type dbNotification struct {
	ID        string     `db:"id"`
	Recipient string     `db:"recipient"`
	Channel   string     `db:"channel"`
	Type      string     `db:"type"`
	Subject   string     `db:"subject"`
	Message   string     `db:"message"`
	Status    string     `db:"status"`
	Error     string     `db:"error"`
	CaseID    string     `db:"case_id"`
	SentAt    *time.Time `db:"sent_at"`
	CreatedAt time.Time  `db:"created_at"`
}

func fromDBNotification(row *dbNotification) *model.Notification {
	return &model.Notification{
		ID:        row.ID,
		Recipient: row.Recipient,
		Channel:   row.Channel,
		Type:      model.CaseEventType(row.Type),
		Subject:   row.Subject,
		Message:   row.Message,
		Status:    row.Status,
		Error:     row.Error,
		CaseID:    row.CaseID,
		SentAt:    row.SentAt,
		CreatedAt: row.CreatedAt,
	}
}
