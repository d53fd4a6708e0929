// Package model provides data models for the alert-to-case pipeline.
package model

import (
	"encoding/json"
	"time"
)

// CaseSeverity represents case severity levels.
type CaseSeverity string

const (
	SeverityLow      CaseSeverity = "LOW"
	SeverityMedium   CaseSeverity = "MEDIUM"
	SeverityHigh     CaseSeverity = "HIGH"
	SeverityCritical CaseSeverity = "CRITICAL"
)

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s CaseSeverity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// CaseStatus represents case lifecycle states.
type CaseStatus string

const (
	StatusOpen       CaseStatus = "OPEN"
	StatusAssigned   CaseStatus = "ASSIGNED"
	StatusInProgress CaseStatus = "IN_PROGRESS"
	StatusResolved   CaseStatus = "RESOLVED"
	StatusClosed     CaseStatus = "CLOSED"
)

// IsTerminal reports whether the status is a terminal state. Terminal cases are
// retained and re-enterable only through the explicit reopen transition.
func (s CaseStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// Case priorities: 1 is most urgent, 4 least.
const (
	PriorityUrgent = 1
	PriorityHigh   = 2
	PriorityMedium = 3
	PriorityLow    = 4
)

// Case is a durable record created from one alert fingerprint.
type Case struct {
	ID          string       `json:"id"`
	Number      string       `json:"number"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Severity    CaseSeverity `json:"severity"`
	Priority    int          `json:"priority"`
	Category    string       `json:"category,omitempty"`
	Status      CaseStatus   `json:"status"`

	Assignment AssignmentInfo `json:"assignment"`

	// Dedup / reopen identity
	Fingerprint string `json:"fingerprint"`
	RuleUID     string `json:"rule_uid,omitempty"`

	// SLA
	SLADeadline time.Time `json:"sla_deadline"`
	SLABreached bool      `json:"sla_breached"`

	// Resolution / closure
	Resolution            string     `json:"resolution,omitempty"`
	RootCause             string     `json:"root_cause,omitempty"`
	ResolutionActions     string     `json:"resolution_actions,omitempty"`
	ResolvedAt            *time.Time `json:"resolved_at,omitempty"`
	ClosedAt              *time.Time `json:"closed_at,omitempty"`
	ClosedBy              string     `json:"closed_by,omitempty"`
	ResolutionTimeMinutes int64      `json:"resolution_time_minutes,omitempty"`

	// Recurrence bookkeeping
	AlertCount  int       `json:"alert_count"`
	LastAlertAt time.Time `json:"last_alert_at"`
	ReopenCount int       `json:"reopen_count"`

	// Optimistic concurrency guard for status/assignment writes.
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// IsOpen reports whether the case is in a non-terminal state.
func (c *Case) IsOpen() bool {
	return !c.Status.IsTerminal()
}

// Activity types recorded on cases.
const (
	ActivityCreated       = "created"
	ActivityAssigned      = "assigned"
	ActivityStatusChanged = "status_changed"
	ActivityReopened      = "reopened"
	ActivityReclassified  = "reclassified"
	ActivityRecurrence    = "alert_recurrence"
	ActivityResolved      = "resolved"
	ActivityClosed        = "closed"
	ActivityEscalated     = "escalated"
	ActivitySLABreached   = "sla_breached"
)

// CaseActivity is one append-only audit entry. Entries are never mutated.
type CaseActivity struct {
	ID          string          `json:"id" db:"id"`
	CaseID      string          `json:"case_id" db:"case_id"`
	Type        string          `json:"type" db:"type"`
	Field       string          `json:"field,omitempty" db:"field"`
	OldValue    json.RawMessage `json:"old_value,omitempty" db:"old_value"`
	NewValue    json.RawMessage `json:"new_value,omitempty" db:"new_value"`
	Description string          `json:"description" db:"description"`
	Actor       string          `json:"actor" db:"actor"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// CaseFilter defines filters for listing cases.
type CaseFilter struct {
	Status      []CaseStatus
	Severity    []CaseSeverity
	AssigneeID  string
	TeamID      string
	RuleUID     string
	SLABreached *bool
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// CaseListResult contains paginated case results.
type CaseListResult struct {
	Cases   []*Case `json:"cases"`
	Total   int64   `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	HasMore bool    `json:"has_more"`
}
