package model

import "time"

// Alert statuses as delivered by the monitoring system.
const (
	AlertFiring   = "firing"
	AlertResolved = "resolved"
)

// WebhookPayload is the inbound webhook body: a receiver name and a batch of
// alert events. Field names follow the Grafana/Alertmanager wire format.
type WebhookPayload struct {
	Receiver string       `json:"receiver"`
	Status   string       `json:"status"`
	Alerts   []AlertEvent `json:"alerts"`
}

// AlertEvent is one transient alert inside a webhook payload. It is consumed by
// the ingestor and never mutated or persisted as a rich object.
type AlertEvent struct {
	Fingerprint  string            `json:"fingerprint"`
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	GeneratorURL string            `json:"generatorURL"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
}

// Name returns the alert's display name from its labels, if present.
func (a *AlertEvent) Name() string {
	if v := a.Labels["alertname"]; v != "" {
		return v
	}
	return a.Labels["rulename"]
}

// RawAlert is the lightweight audit record persisted for every ingested alert,
// independent of whether a case was created.
type RawAlert struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	RuleUID     string    `json:"rule_uid,omitempty"`
	Status      string    `json:"status"`
	Payload     []byte    `json:"payload"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Per-alert ingestion outcomes.
const (
	OutcomeCreated    = "created"
	OutcomeUpdated    = "updated"
	OutcomeReopened   = "reopened"
	OutcomeResolved   = "resolved"
	OutcomeSuppressed = "suppressed"
	OutcomeFailed     = "failed"
)

// ItemResult is the outcome for one alert in a payload.
type ItemResult struct {
	Fingerprint string `json:"fingerprint"`
	RuleUID     string `json:"rule_uid,omitempty"`
	Outcome     string `json:"outcome"`
	CaseID      string `json:"case_id,omitempty"`
	CaseNumber  string `json:"case_number,omitempty"`
	Error       string `json:"error,omitempty"`
}

// IngestResult aggregates per-alert outcomes for one webhook payload. A failure
// on one alert never aborts the others; callers inspect Failed to retry only
// the failed items.
type IngestResult struct {
	Receiver string       `json:"receiver"`
	Items    []ItemResult `json:"items"`
	Failed   int          `json:"failed"`
}
