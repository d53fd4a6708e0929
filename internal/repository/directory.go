package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/alertops-platform/caseflow/internal/model"
)

// DirectoryRepository exposes the user/team directory lookups the pipeline
// needs. Administrative CRUD on users and teams lives elsewhere.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository creates a new directory repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// FindUser retrieves a user by ID.
func (r *DirectoryRepository) FindUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `SELECT id, name, email, active FROM users WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// TeamMembers returns the active members of a team.
func (r *DirectoryRepository) TeamMembers(ctx context.Context, teamID string) ([]*model.User, error) {
	var users []*model.User
	err := r.db.SelectContext(ctx, &users, `
		SELECT u.id, u.name, u.email, u.active
		FROM users u
		JOIN team_members tm ON tm.user_id = u.id
		WHERE tm.team_id = $1 AND u.active
		ORDER BY u.name
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	return users, nil
}

// TeamLead returns the team's designated lead, or ErrNotFound when the team
// has none configured.
func (r *DirectoryRepository) TeamLead(ctx context.Context, teamID string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT u.id, u.name, u.email, u.active
		FROM users u
		JOIN teams t ON t.lead_id = u.id
		WHERE t.id = $1 AND u.active
	`, teamID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("lead for team %s: %w", teamID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find team lead: %w", err)
	}
	return &user, nil
}
