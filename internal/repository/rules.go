package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/alertops-platform/caseflow/internal/model"
)

// RuleRepository is the rule assignment registry. Read-mostly: the ingestion
// path only looks rules up by external rule UID.
type RuleRepository struct {
	db *sqlx.DB
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(db *sqlx.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// Create inserts a new rule assignment.
func (r *RuleRepository) Create(ctx context.Context, rule *model.RuleAssignment) error {
	query := `
		INSERT INTO rule_assignments (
			id, rule_uid, rule_name, rule_folder, default_severity, default_category,
			strategy, active, assigned_user_ids, assigned_team_ids, escalation_team_id,
			created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :rule_uid, :rule_name, :rule_folder, :default_severity, :default_category,
			:strategy, :active, :assigned_user_ids, :assigned_team_ids, :escalation_team_id,
			:created_at, :updated_at, :created_by, :updated_by
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, toDBRule(rule)); err != nil {
		return fmt.Errorf("failed to create rule assignment: %w", err)
	}
	return nil
}

// GetByRuleUID looks up the assignment for an external rule UID.
func (r *RuleRepository) GetByRuleUID(ctx context.Context, ruleUID string) (*model.RuleAssignment, error) {
	var row dbRule
	err := r.db.GetContext(ctx, &row, `SELECT * FROM rule_assignments WHERE rule_uid = $1`, ruleUID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule assignment %s: %w", ruleUID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule assignment: %w", err)
	}
	return fromDBRule(&row), nil
}

// Get retrieves a rule assignment by internal ID.
func (r *RuleRepository) Get(ctx context.Context, id string) (*model.RuleAssignment, error) {
	var row dbRule
	err := r.db.GetContext(ctx, &row, `SELECT * FROM rule_assignments WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule assignment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule assignment: %w", err)
	}
	return fromDBRule(&row), nil
}

// List returns all rule assignments ordered by rule name.
func (r *RuleRepository) List(ctx context.Context) ([]*model.RuleAssignment, error) {
	var rows []dbRule
	err := r.db.SelectContext(ctx, &rows, `SELECT * FROM rule_assignments ORDER BY rule_name, rule_uid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule assignments: %w", err)
	}

	rules := make([]*model.RuleAssignment, len(rows))
	for i := range rows {
		rules[i] = fromDBRule(&rows[i])
	}
	return rules, nil
}

// Update rewrites a rule assignment.
func (r *RuleRepository) Update(ctx context.Context, rule *model.RuleAssignment) error {
	query := `
		UPDATE rule_assignments SET
			rule_name = :rule_name,
			rule_folder = :rule_folder,
			default_severity = :default_severity,
			default_category = :default_category,
			strategy = :strategy,
			active = :active,
			assigned_user_ids = :assigned_user_ids,
			assigned_team_ids = :assigned_team_ids,
			escalation_team_id = :escalation_team_id,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, toDBRule(rule))
	if err != nil {
		return fmt.Errorf("failed to update rule assignment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("rule assignment %s: %w", rule.ID, ErrNotFound)
	}
	return nil
}

// SetActive toggles the active flag.
func (r *RuleRepository) SetActive(ctx context.Context, id string, active bool, updatedBy string, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE rule_assignments SET active = $2, updated_by = $3, updated_at = $4 WHERE id = $1
	`, id, active, updatedBy, now)
	if err != nil {
		return fmt.Errorf("failed to toggle rule assignment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("rule assignment %s: %w", id, ErrNotFound)
	}
	return nil
}

// ExistingRuleUIDs returns the set of rule UIDs already registered. Used by the
// additive-only sync to skip rules an operator has configured.
func (r *RuleRepository) ExistingRuleUIDs(ctx context.Context) (map[string]struct{}, error) {
	var uids []string
	if err := r.db.SelectContext(ctx, &uids, `SELECT rule_uid FROM rule_assignments`); err != nil {
		return nil, fmt.Errorf("failed to list rule UIDs: %w", err)
	}

	set := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		set[uid] = struct{}{}
	}
	return set, nil
}

// dbRule is the database row shape for rule assignments.
type dbRule struct {
	ID               string         `db:"id"`
	RuleUID          string         `db:"rule_uid"`
	RuleName         sql.NullString `db:"rule_name"`
	RuleFolder       sql.NullString `db:"rule_folder"`
	DefaultSeverity  string         `db:"default_severity"`
	DefaultCategory  sql.NullString `db:"default_category"`
	Strategy         string         `db:"strategy"`
	Active           bool           `db:"active"`
	AssignedUserIDs  pq.StringArray `db:"assigned_user_ids"`
	AssignedTeamIDs  pq.StringArray `db:"assigned_team_ids"`
	EscalationTeamID sql.NullString `db:"escalation_team_id"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	CreatedBy        sql.NullString `db:"created_by"`
	UpdatedBy        sql.NullString `db:"updated_by"`
}

func toDBRule(rule *model.RuleAssignment) *dbRule {
	return &dbRule{
		ID:               rule.ID,
		RuleUID:          rule.RuleUID,
		RuleName:         nullString(rule.RuleName),
		RuleFolder:       nullString(rule.RuleFolder),
		DefaultSeverity:  string(rule.DefaultSeverity),
		DefaultCategory:  nullString(rule.DefaultCategory),
		Strategy:         string(rule.Strategy),
		Active:           rule.Active,
		AssignedUserIDs:  pq.StringArray(rule.AssignedUserIDs),
		AssignedTeamIDs:  pq.StringArray(rule.AssignedTeamIDs),
		EscalationTeamID: nullString(rule.EscalationTeamID),
		CreatedAt:        rule.CreatedAt,
		UpdatedAt:        rule.UpdatedAt,
		CreatedBy:        nullString(rule.CreatedBy),
		UpdatedBy:        nullString(rule.UpdatedBy),
	}
}

func fromDBRule(row *dbRule) *model.RuleAssignment {
	return &model.RuleAssignment{
		ID:               row.ID,
		RuleUID:          row.RuleUID,
		RuleName:         row.RuleName.String,
		RuleFolder:       row.RuleFolder.String,
		DefaultSeverity:  model.CaseSeverity(row.DefaultSeverity),
		DefaultCategory:  row.DefaultCategory.String,
		Strategy:         model.AssignmentStrategy(row.Strategy),
		Active:           row.Active,
		AssignedUserIDs:  []string(row.AssignedUserIDs),
		AssignedTeamIDs:  []string(row.AssignedTeamIDs),
		EscalationTeamID: row.EscalationTeamID.String,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
		CreatedBy:        row.CreatedBy.String,
		UpdatedBy:        row.UpdatedBy.String,
	}
}
