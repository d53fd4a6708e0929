package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/alertops-platform/caseflow/internal/model"
)

// CaseRepository handles case persistence.
type CaseRepository struct {
	db *sqlx.DB
}

// NewCaseRepository creates a new case repository.
func NewCaseRepository(db *sqlx.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

const caseInsert = `
	INSERT INTO cases (
		id, number, title, description, severity, priority, category, status,
		assignment, fingerprint, rule_uid, sla_deadline, sla_breached,
		resolution, root_cause, resolution_actions, resolved_at,
		closed_at, closed_by, resolution_time_minutes,
		alert_count, last_alert_at, reopen_count, version,
		created_at, updated_at, created_by, updated_by
	) VALUES (
		:id, :number, :title, :description, :severity, :priority, :category, :status,
		:assignment, :fingerprint, :rule_uid, :sla_deadline, :sla_breached,
		:resolution, :root_cause, :resolution_actions, :resolved_at,
		:closed_at, :closed_by, :resolution_time_minutes,
		:alert_count, :last_alert_at, :reopen_count, :version,
		:created_at, :updated_at, :created_by, :updated_by
	)
`

// Create inserts a new case. Callers serialize per fingerprint (the pipeline
// holds the fingerprint lock), so two cases for one fingerprint cannot race in.
func (r *CaseRepository) Create(ctx context.Context, c *model.Case) error {
	row, err := toDBCase(c)
	if err != nil {
		return err
	}
	if _, err := r.db.NamedExecContext(ctx, caseInsert, row); err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

// Get retrieves a case by ID.
func (r *CaseRepository) Get(ctx context.Context, id string) (*model.Case, error) {
	var row dbCase
	err := r.db.GetContext(ctx, &row, `SELECT * FROM cases WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return fromDBCase(&row)
}

// FindByFingerprint returns the most recent case for a fingerprint, or
// ErrNotFound when none exists.
func (r *CaseRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*model.Case, error) {
	var row dbCase
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM cases
		WHERE fingerprint = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, fingerprint)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("fingerprint %s: %w", fingerprint, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find case by fingerprint: %w", err)
	}
	return fromDBCase(&row)
}

const caseUpdate = `
	UPDATE cases SET
		title = :title,
		description = :description,
		severity = :severity,
		priority = :priority,
		category = :category,
		status = :status,
		assignment = :assignment,
		sla_deadline = :sla_deadline,
		sla_breached = :sla_breached,
		resolution = :resolution,
		root_cause = :root_cause,
		resolution_actions = :resolution_actions,
		resolved_at = :resolved_at,
		closed_at = :closed_at,
		closed_by = :closed_by,
		resolution_time_minutes = :resolution_time_minutes,
		alert_count = :alert_count,
		last_alert_at = :last_alert_at,
		reopen_count = :reopen_count,
		version = :version + 1,
		updated_at = :updated_at,
		updated_by = :updated_by
	WHERE id = :id AND version = :version
`

// Update writes a case back using the version it was read at. A concurrent
// writer that got there first makes this return ErrConflict; last-writer-wins
// is not acceptable for status transitions.
func (r *CaseRepository) Update(ctx context.Context, c *model.Case) error {
	row, err := toDBCase(c)
	if err != nil {
		return err
	}

	result, err := r.db.NamedExecContext(ctx, caseUpdate, row)
	if err != nil {
		return fmt.Errorf("failed to update case: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either the case is gone or someone else bumped the version.
		return fmt.Errorf("case %s at version %d: %w", c.ID, c.Version, ErrConflict)
	}

	c.Version++
	return nil
}

// List retrieves cases matching the filter.
func (r *CaseRepository) List(ctx context.Context, filter *model.CaseFilter) (*model.CaseListResult, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Status) > 0 {
		conditions = append(conditions, fmt.Sprintf("status = ANY(%s)", arg(pq.Array(filter.Status))))
	}
	if len(filter.Severity) > 0 {
		conditions = append(conditions, fmt.Sprintf("severity = ANY(%s)", arg(pq.Array(filter.Severity))))
	}
	if filter.AssigneeID != "" {
		conditions = append(conditions, fmt.Sprintf("assignment->'user_ids' ? %s", arg(filter.AssigneeID)))
	}
	if filter.TeamID != "" {
		conditions = append(conditions, fmt.Sprintf("assignment->'team_ids' ? %s", arg(filter.TeamID)))
	}
	if filter.RuleUID != "" {
		conditions = append(conditions, fmt.Sprintf("rule_uid = %s", arg(filter.RuleUID)))
	}
	if filter.SLABreached != nil {
		conditions = append(conditions, fmt.Sprintf("sla_breached = %s", arg(*filter.SLABreached)))
	}
	if filter.CreatedFrom != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= %s", arg(*filter.CreatedFrom)))
	}
	if filter.CreatedTo != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= %s", arg(*filter.CreatedTo)))
	}

	whereClause := strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM cases WHERE %s", whereClause)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count cases: %w", err)
	}

	limit := 50
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	offset := 0
	if filter.Offset > 0 {
		offset = filter.Offset
	}

	query := fmt.Sprintf(`
		SELECT * FROM cases
		WHERE %s
		ORDER BY created_at DESC
		LIMIT %s OFFSET %s
	`, whereClause, arg(limit), arg(offset))

	var rows []dbCase
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}

	cases := make([]*model.Case, 0, len(rows))
	for i := range rows {
		c, err := fromDBCase(&rows[i])
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}

	return &model.CaseListResult{
		Cases:   cases,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+limit) < total,
	}, nil
}

// OpenCaseCounts returns, for each of the given users, how many non-terminal
// cases currently list them as an assignee. Users with zero open cases are
// absent from the map.
func (r *CaseRepository) OpenCaseCounts(ctx context.Context, userIDs []string) (map[string]int, error) {
	if len(userIDs) == 0 {
		return map[string]int{}, nil
	}

	query := `
		SELECT u.user_id, COUNT(*) AS open_count
		FROM cases c, jsonb_array_elements_text(c.assignment->'user_ids') AS u(user_id)
		WHERE c.status NOT IN ('RESOLVED', 'CLOSED')
		  AND u.user_id = ANY($1)
		GROUP BY u.user_id
	`

	var rows []struct {
		UserID    string `db:"user_id"`
		OpenCount int    `db:"open_count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(userIDs)); err != nil {
		return nil, fmt.Errorf("failed to count open cases: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.UserID] = row.OpenCount
	}
	return counts, nil
}

// MarkBreached flags every non-terminal, not-yet-breached case whose SLA
// deadline has passed and returns the newly-breached set. The predicate lives
// inside the UPDATE, so the sweep is idempotent and a concurrent close wins:
// a case that went terminal first can no longer be flagged.
func (r *CaseRepository) MarkBreached(ctx context.Context, now time.Time) ([]*model.Case, error) {
	query := `
		UPDATE cases SET
			sla_breached = TRUE,
			version = version + 1,
			updated_at = $2
		WHERE sla_deadline < $1
		  AND sla_breached = FALSE
		  AND status NOT IN ('RESOLVED', 'CLOSED')
		RETURNING *
	`

	var rows []dbCase
	if err := r.db.SelectContext(ctx, &rows, query, now, now); err != nil {
		return nil, fmt.Errorf("failed to mark breached cases: %w", err)
	}

	breached := make([]*model.Case, 0, len(rows))
	for i := range rows {
		c, err := fromDBCase(&rows[i])
		if err != nil {
			return nil, err
		}
		breached = append(breached, c)
	}
	return breached, nil
}

// dbCase is the database row shape for cases.
type dbCase struct {
	ID                    string         `db:"id"`
	Number                string         `db:"number"`
	Title                 string         `db:"title"`
	Description           string         `db:"description"`
	Severity              string         `db:"severity"`
	Priority              int            `db:"priority"`
	Category              sql.NullString `db:"category"`
	Status                string         `db:"status"`
	Assignment            []byte         `db:"assignment"`
	Fingerprint           string         `db:"fingerprint"`
	RuleUID               sql.NullString `db:"rule_uid"`
	SLADeadline           time.Time      `db:"sla_deadline"`
	SLABreached           bool           `db:"sla_breached"`
	Resolution            sql.NullString `db:"resolution"`
	RootCause             sql.NullString `db:"root_cause"`
	ResolutionActions     sql.NullString `db:"resolution_actions"`
	ResolvedAt            *time.Time     `db:"resolved_at"`
	ClosedAt              *time.Time     `db:"closed_at"`
	ClosedBy              sql.NullString `db:"closed_by"`
	ResolutionTimeMinutes int64          `db:"resolution_time_minutes"`
	AlertCount            int            `db:"alert_count"`
	LastAlertAt           time.Time      `db:"last_alert_at"`
	ReopenCount           int            `db:"reopen_count"`
	Version               int            `db:"version"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
	CreatedBy             string         `db:"created_by"`
	UpdatedBy             sql.NullString `db:"updated_by"`
}

func toDBCase(c *model.Case) (*dbCase, error) {
	assignment, err := json.Marshal(c.Assignment)
	if err != nil {
		return nil, fmt.Errorf("failed to encode assignment: %w", err)
	}

	row := &dbCase{
		ID:                    c.ID,
		Number:                c.Number,
		Title:                 c.Title,
		Description:           c.Description,
		Severity:              string(c.Severity),
		Priority:              c.Priority,
		Status:                string(c.Status),
		Assignment:            assignment,
		Fingerprint:           c.Fingerprint,
		SLADeadline:           c.SLADeadline,
		SLABreached:           c.SLABreached,
		ResolvedAt:            c.ResolvedAt,
		ClosedAt:              c.ClosedAt,
		ResolutionTimeMinutes: c.ResolutionTimeMinutes,
		AlertCount:            c.AlertCount,
		LastAlertAt:           c.LastAlertAt,
		ReopenCount:           c.ReopenCount,
		Version:               c.Version,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
		CreatedBy:             c.CreatedBy,
	}

	row.Category = nullString(c.Category)
	row.RuleUID = nullString(c.RuleUID)
	row.Resolution = nullString(c.Resolution)
	row.RootCause = nullString(c.RootCause)
	row.ResolutionActions = nullString(c.ResolutionActions)
	row.ClosedBy = nullString(c.ClosedBy)
	row.UpdatedBy = nullString(c.UpdatedBy)

	return row, nil
}

func fromDBCase(row *dbCase) (*model.Case, error) {
	c := &model.Case{
		ID:                    row.ID,
		Number:                row.Number,
		Title:                 row.Title,
		Description:           row.Description,
		Severity:              model.CaseSeverity(row.Severity),
		Priority:              row.Priority,
		Status:                model.CaseStatus(row.Status),
		Fingerprint:           row.Fingerprint,
		SLADeadline:           row.SLADeadline,
		SLABreached:           row.SLABreached,
		ResolvedAt:            row.ResolvedAt,
		ClosedAt:              row.ClosedAt,
		ResolutionTimeMinutes: row.ResolutionTimeMinutes,
		AlertCount:            row.AlertCount,
		LastAlertAt:           row.LastAlertAt,
		ReopenCount:           row.ReopenCount,
		Version:               row.Version,
		CreatedAt:             row.CreatedAt,
		UpdatedAt:             row.UpdatedAt,
		CreatedBy:             row.CreatedBy,
	}

	c.Category = row.Category.String
	c.RuleUID = row.RuleUID.String
	c.Resolution = row.Resolution.String
	c.RootCause = row.RootCause.String
	c.ResolutionActions = row.ResolutionActions.String
	c.ClosedBy = row.ClosedBy.String
	c.UpdatedBy = row.UpdatedBy.String

	if len(row.Assignment) > 0 {
		if err := json.Unmarshal(row.Assignment, &c.Assignment); err != nil {
			return nil, fmt.Errorf("failed to decode assignment: %w", err)
		}
	}

	return c, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
