// Package ingest turns raw webhook alerts into case pipeline work: it
// extracts rule identity, guarantees a fingerprint, records the raw-alert
// audit trail and hands each alert to the lifecycle pipeline, isolating
// failures per alert.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alertops-platform/caseflow/internal/model"
	"github.com/alertops-platform/caseflow/internal/repository"
)

// RuleLookup resolves an external rule UID to its configured assignment.
type RuleLookup interface {
	GetByRuleUID(ctx context.Context, ruleUID string) (*model.RuleAssignment, error)
}

// AuditStore records the raw-alert trail.
type AuditStore interface {
	Record(ctx context.Context, a *model.RawAlert) error
}

// CasePipeline applies one alert to the case lifecycle and reports what
// happened to it (created, updated, reopened, resolved, suppressed).
type CasePipeline interface {
	ProcessAlert(ctx context.Context, alert *model.AlertEvent, fingerprint, ruleUID string, rule *model.RuleAssignment) (string, *model.Case, error)
}

// Ingestor processes webhook payloads alert by alert.
type Ingestor struct {
	rules  RuleLookup
	audit  AuditStore
	cases  CasePipeline
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewIngestor creates an ingestor.
func NewIngestor(rules RuleLookup, audit AuditStore, cases CasePipeline, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		rules:  rules,
		audit:  audit,
		cases:  cases,
		logger: logger,
		nowFn:  time.Now,
	}
}

// Ingest processes every alert in the payload and returns per-alert outcomes.
// One failing alert never aborts the rest of the batch.
func (in *Ingestor) Ingest(ctx context.Context, payload *model.WebhookPayload) *model.IngestResult {
	result := &model.IngestResult{
		Receiver: payload.Receiver,
		Items:    make([]model.ItemResult, 0, len(payload.Alerts)),
	}

	for i := range payload.Alerts {
		item := in.ingestOne(ctx, &payload.Alerts[i])
		if item.Outcome == model.OutcomeFailed {
			result.Failed++
		}
		result.Items = append(result.Items, item)
	}

	return result
}

func (in *Ingestor) ingestOne(ctx context.Context, alert *model.AlertEvent) model.ItemResult {
	ruleUID := ExtractRuleUID(alert)
	fingerprint := Fingerprint(alert, ruleUID)

	in.recordRaw(ctx, alert, fingerprint, ruleUID)

	// A missing or unknown rule is not an error: the alert proceeds unowned.
	var rule *model.RuleAssignment
	if ruleUID != "" {
		r, err := in.rules.GetByRuleUID(ctx, ruleUID)
		switch {
		case err == nil:
			rule = r
		case errors.Is(err, repository.ErrNotFound):
			in.logger.Debug("no assignment for rule", "rule_uid", ruleUID)
		default:
			in.logger.Error("rule lookup failed", "rule_uid", ruleUID, "error", err)
		}
	}

	item := model.ItemResult{Fingerprint: fingerprint, RuleUID: ruleUID}

	outcome, c, err := in.cases.ProcessAlert(ctx, alert, fingerprint, ruleUID, rule)
	if err != nil {
		in.logger.Error("alert processing failed",
			"fingerprint", fingerprint,
			"rule_uid", ruleUID,
			"error", err)
		item.Outcome = model.OutcomeFailed
		item.Error = err.Error()
		return item
	}

	item.Outcome = outcome
	if c != nil {
		item.CaseID = c.ID
		item.CaseNumber = c.Number
	}
	return item
}

// recordRaw persists the audit record for one alert. Best effort: a failed
// audit write is logged but never blocks case processing.
func (in *Ingestor) recordRaw(ctx context.Context, alert *model.AlertEvent, fingerprint, ruleUID string) {
	body, err := json.Marshal(alert)
	if err != nil {
		in.logger.Warn("failed to encode raw alert", "fingerprint", fingerprint, "error", err)
		return
	}

	raw := &model.RawAlert{
		ID:          uuid.NewString(),
		Fingerprint: fingerprint,
		RuleUID:     ruleUID,
		Status:      alert.Status,
		Payload:     body,
		ReceivedAt:  in.nowFn().UTC(),
	}
	if err := in.audit.Record(ctx, raw); err != nil {
		in.logger.Warn("failed to record raw alert", "fingerprint", fingerprint, "error", err)
	}
}
