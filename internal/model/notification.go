package model

import "time"

// CaseEventType identifies the lifecycle event a notification is about.
type CaseEventType string

const (
	EventCaseCreated  CaseEventType = "case_created"
	EventCaseAssigned CaseEventType = "case_assigned"
	EventCaseReopened CaseEventType = "case_reopened"
	EventSLABreached  CaseEventType = "sla_breached"
	EventCaseResolved CaseEventType = "case_resolved"
	EventCaseClosed   CaseEventType = "case_closed"
)

// CaseEvent is the outbound event handed to the notification fan-out,
// one copy per recipient.
type CaseEvent struct {
	Type        CaseEventType `json:"type"`
	CaseID      string        `json:"case_id"`
	CaseNumber  string        `json:"case_number"`
	Title       string        `json:"title"`
	Severity    CaseSeverity  `json:"severity"`
	Priority    int           `json:"priority"`
	SLADeadline time.Time     `json:"sla_deadline"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

// Notification delivery channels.
const (
	ChannelEmail    = "email"
	ChannelRealtime = "realtime"
	ChannelAdmin    = "admin"
)

// Notification statuses. SENT→DELIVERED is the transport collaborator's job;
// the pipeline records PENDING, SENT and FAILED.
const (
	NotificationPending = "PENDING"
	NotificationSent    = "SENT"
	NotificationFailed  = "FAILED"
)

// Notification is the persisted audit record for one delivery to one recipient.
type Notification struct {
	ID          string        `json:"id"`
	Recipient   string        `json:"recipient"`
	Channel     string        `json:"channel"`
	Type        CaseEventType `json:"type"`
	Subject     string        `json:"subject"`
	Message     string        `json:"message"`
	Status      string        `json:"status"`
	Error       string        `json:"error,omitempty"`
	CaseID      string        `json:"case_id,omitempty"`
	SentAt      *time.Time    `json:"sent_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
