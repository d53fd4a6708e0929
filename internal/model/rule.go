package model

import "time"

// AssignmentStrategy selects how owners are picked from a rule's pool.
// The variant set is closed; resolution is a single switch, not subtypes.
type AssignmentStrategy string

const (
	StrategyManual     AssignmentStrategy = "MANUAL"
	StrategyRoundRobin AssignmentStrategy = "ROUND_ROBIN"
	StrategyLoadBased  AssignmentStrategy = "LOAD_BASED"
	StrategyTeamBased  AssignmentStrategy = "TEAM_BASED"
)

// ValidStrategy reports whether s is a known strategy.
func ValidStrategy(s AssignmentStrategy) bool {
	switch s {
	case StrategyManual, StrategyRoundRobin, StrategyLoadBased, StrategyTeamBased:
		return true
	}
	return false
}

// RuleAssignment maps one external alerting rule to default classification and
// an ownership policy. Read-only from the ingestion path; written through the
// admin API or the additive rule-source sync.
type RuleAssignment struct {
	ID              string             `json:"id"`
	RuleUID         string             `json:"rule_uid"`
	RuleName        string             `json:"rule_name,omitempty"`
	RuleFolder      string             `json:"rule_folder,omitempty"`
	DefaultSeverity CaseSeverity       `json:"default_severity"`
	DefaultCategory string             `json:"default_category,omitempty"`
	Strategy        AssignmentStrategy `json:"strategy"`
	Active          bool               `json:"active"`

	AssignedUserIDs  []string `json:"assigned_user_ids,omitempty"`
	AssignedTeamIDs  []string `json:"assigned_team_ids,omitempty"`
	EscalationTeamID string   `json:"escalation_team_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// HasPool reports whether any users or teams are configured on the rule.
func (r *RuleAssignment) HasPool() bool {
	return len(r.AssignedUserIDs) > 0 || len(r.AssignedTeamIDs) > 0
}

// User is a directory entry; the user/team directory is an external
// collaborator, only lookups are modelled here.
type User struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Email  string `json:"email" db:"email"`
	Active bool   `json:"active" db:"active"`
}

// Team is a directory entry.
type Team struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	LeadID string `json:"lead_id,omitempty" db:"lead_id"`
}
