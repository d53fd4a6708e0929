package model

import (
	"encoding/json"
	"sort"
)

// AssignmentInfo is the resolved set of users and teams that own a case.
// The zero value is a valid empty assignment. Sets are not exposed directly;
// callers mutate through Add/Remove/Replace and read complete snapshots, so an
// AssignmentInfo is never observed half-built.
type AssignmentInfo struct {
	userIDs map[string]struct{}
	teamIDs map[string]struct{}
}

// NewAssignmentInfo builds an AssignmentInfo from user and team ID lists.
// Duplicate and empty IDs are discarded.
func NewAssignmentInfo(userIDs, teamIDs []string) AssignmentInfo {
	var info AssignmentInfo
	for _, id := range userIDs {
		info.AddUser(id)
	}
	for _, id := range teamIDs {
		info.AddTeam(id)
	}
	return info
}

// HasAssignments reports whether any user or team is assigned.
func (a AssignmentInfo) HasAssignments() bool {
	return len(a.userIDs) > 0 || len(a.teamIDs) > 0
}

// UserIDs returns the assigned user IDs in sorted order.
func (a AssignmentInfo) UserIDs() []string {
	return sortedKeys(a.userIDs)
}

// TeamIDs returns the assigned team IDs in sorted order.
func (a AssignmentInfo) TeamIDs() []string {
	return sortedKeys(a.teamIDs)
}

// HasUser reports whether the user is directly assigned.
func (a AssignmentInfo) HasUser(id string) bool {
	_, ok := a.userIDs[id]
	return ok
}

// HasTeam reports whether the team is assigned.
func (a AssignmentInfo) HasTeam(id string) bool {
	_, ok := a.teamIDs[id]
	return ok
}

// AddUser adds a user to the assignment. Empty IDs are ignored.
func (a *AssignmentInfo) AddUser(id string) {
	if id == "" {
		return
	}
	if a.userIDs == nil {
		a.userIDs = make(map[string]struct{})
	}
	a.userIDs[id] = struct{}{}
}

// AddTeam adds a team to the assignment. Empty IDs are ignored.
func (a *AssignmentInfo) AddTeam(id string) {
	if id == "" {
		return
	}
	if a.teamIDs == nil {
		a.teamIDs = make(map[string]struct{})
	}
	a.teamIDs[id] = struct{}{}
}

// RemoveUser removes a directly-assigned user.
func (a *AssignmentInfo) RemoveUser(id string) {
	delete(a.userIDs, id)
}

// RemoveTeam removes an assigned team.
func (a *AssignmentInfo) RemoveTeam(id string) {
	delete(a.teamIDs, id)
}

// Replace overwrites the assignment with another snapshot.
func (a *AssignmentInfo) Replace(other AssignmentInfo) {
	a.userIDs = make(map[string]struct{}, len(other.userIDs))
	for id := range other.userIDs {
		a.userIDs[id] = struct{}{}
	}
	a.teamIDs = make(map[string]struct{}, len(other.teamIDs))
	for id := range other.teamIDs {
		a.teamIDs[id] = struct{}{}
	}
}

// Merge adds every user and team from other into the assignment.
func (a *AssignmentInfo) Merge(other AssignmentInfo) {
	for id := range other.userIDs {
		a.AddUser(id)
	}
	for id := range other.teamIDs {
		a.AddTeam(id)
	}
}

// Clone returns an independent copy of the assignment.
func (a AssignmentInfo) Clone() AssignmentInfo {
	var c AssignmentInfo
	c.Replace(a)
	return c
}

// Equal reports whether both assignments contain the same users and teams.
func (a AssignmentInfo) Equal(other AssignmentInfo) bool {
	if len(a.userIDs) != len(other.userIDs) || len(a.teamIDs) != len(other.teamIDs) {
		return false
	}
	for id := range a.userIDs {
		if !other.HasUser(id) {
			return false
		}
	}
	for id := range a.teamIDs {
		if !other.HasTeam(id) {
			return false
		}
	}
	return true
}

// Summary renders a short human-readable form for activity entries,
// e.g. "users=[u1 u2] teams=[t1]" or "unassigned".
func (a AssignmentInfo) Summary() string {
	if !a.HasAssignments() {
		return "unassigned"
	}
	out := ""
	if len(a.userIDs) > 0 {
		out += "users=" + bracketed(a.UserIDs())
	}
	if len(a.teamIDs) > 0 {
		if out != "" {
			out += " "
		}
		out += "teams=" + bracketed(a.TeamIDs())
	}
	return out
}

// assignmentDoc is the persisted JSON shape of an AssignmentInfo. The sets are
// stored as sorted arrays so the column content is stable across writes.
type assignmentDoc struct {
	UserIDs []string `json:"user_ids,omitempty"`
	TeamIDs []string `json:"team_ids,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (a AssignmentInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(assignmentDoc{
		UserIDs: a.UserIDs(),
		TeamIDs: a.TeamIDs(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *AssignmentInfo) UnmarshalJSON(data []byte) error {
	var doc assignmentDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*a = NewAssignmentInfo(doc.UserIDs, doc.TeamIDs)
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func bracketed(ids []string) string {
	out := "["
	for i, id := range ids {
		if i > 0 {
			out += " "
		}
		out += id
	}
	return out + "]"
}
