// Package assign resolves a rule's configured ownership pool into the concrete
// assignment for a new case, according to the rule's strategy.
package assign

import (
	"context"
	"log/slog"

	"github.com/alertops-platform/caseflow/internal/model"
)

// Directory exposes the user/team lookups resolution needs.
type Directory interface {
	TeamMembers(ctx context.Context, teamID string) ([]*model.User, error)
	TeamLead(ctx context.Context, teamID string) (*model.User, error)
}

// CaseLoads reports how many open cases each user currently holds.
type CaseLoads interface {
	OpenCaseCounts(ctx context.Context, userIDs []string) (map[string]int, error)
}

// Resolver picks case owners from a rule's pool. It never invents assignees
// outside the pool: every resolved user or team is configured on the rule or
// derived from one of its teams.
type Resolver struct {
	directory Directory
	loads     CaseLoads
	rotation  Rotation
	logger    *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(directory Directory, loads CaseLoads, rotation Rotation, logger *slog.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		loads:     loads,
		rotation:  rotation,
		logger:    logger,
	}
}

// Resolve produces the assignment for a case created from rule. A nil,
// inactive or empty-pool rule yields an empty assignment; the case then goes
// unowned and is routed to the administrative channel only.
func (r *Resolver) Resolve(ctx context.Context, rule *model.RuleAssignment) model.AssignmentInfo {
	if rule == nil || !rule.Active || !rule.HasPool() {
		return model.AssignmentInfo{}
	}

	switch rule.Strategy {
	case model.StrategyRoundRobin:
		return r.resolveRoundRobin(ctx, rule)
	case model.StrategyLoadBased:
		return r.resolveLoadBased(ctx, rule)
	case model.StrategyTeamBased:
		return r.resolveTeamBased(ctx, rule)
	default:
		// MANUAL and anything unrecognized: the whole pool, verbatim.
		// Ownership can be shared; this is not single-assignee routing.
		return manualAssignment(rule)
	}
}

func manualAssignment(rule *model.RuleAssignment) model.AssignmentInfo {
	return model.NewAssignmentInfo(rule.AssignedUserIDs, rule.AssignedTeamIDs)
}

// resolveRoundRobin picks one user from the pool by a rotating counter keyed
// on the rule UID. Counter position, not wall clock, decides the pick.
func (r *Resolver) resolveRoundRobin(ctx context.Context, rule *model.RuleAssignment) model.AssignmentInfo {
	if len(rule.AssignedUserIDs) == 0 {
		return manualAssignment(rule)
	}

	idx := 0
	n, err := r.rotation.Next(ctx, rule.RuleUID)
	if err != nil {
		r.logger.Warn("rotation counter unavailable, picking first user",
			"rule_uid", rule.RuleUID, "error", err)
	} else {
		idx = int((n - 1) % int64(len(rule.AssignedUserIDs)))
	}

	var info model.AssignmentInfo
	info.AddUser(rule.AssignedUserIDs[idx])
	return info
}

// resolveLoadBased picks the pool user with the fewest open cases. Users
// absent from the count map hold zero. Ties go to pool order.
func (r *Resolver) resolveLoadBased(ctx context.Context, rule *model.RuleAssignment) model.AssignmentInfo {
	if len(rule.AssignedUserIDs) == 0 {
		return manualAssignment(rule)
	}

	counts, err := r.loads.OpenCaseCounts(ctx, rule.AssignedUserIDs)
	if err != nil {
		r.logger.Warn("open-case counts unavailable, assigning full pool",
			"rule_uid", rule.RuleUID, "error", err)
		return manualAssignment(rule)
	}

	best := rule.AssignedUserIDs[0]
	for _, id := range rule.AssignedUserIDs[1:] {
		if counts[id] < counts[best] {
			best = id
		}
	}

	var info model.AssignmentInfo
	info.AddUser(best)
	return info
}

// resolveTeamBased assigns the first configured team together with its lead,
// falling back to the first active member of any configured team when no lead
// is set.
func (r *Resolver) resolveTeamBased(ctx context.Context, rule *model.RuleAssignment) model.AssignmentInfo {
	if len(rule.AssignedTeamIDs) == 0 {
		return manualAssignment(rule)
	}

	var info model.AssignmentInfo
	for _, teamID := range rule.AssignedTeamIDs {
		lead, err := r.directory.TeamLead(ctx, teamID)
		if err == nil {
			info.AddTeam(teamID)
			info.AddUser(lead.ID)
			return info
		}

		members, err := r.directory.TeamMembers(ctx, teamID)
		if err != nil {
			r.logger.Warn("team lookup failed", "team_id", teamID, "error", err)
			continue
		}
		if len(members) > 0 {
			info.AddTeam(teamID)
			info.AddUser(members[0].ID)
			return info
		}
	}

	// No team yielded an owner; fall back to the teams themselves so the
	// case is at least not unowned.
	for _, teamID := range rule.AssignedTeamIDs {
		info.AddTeam(teamID)
	}
	return info
}
