// Package lifecycle owns the case state machine: creation from alerts,
// fingerprint deduplication, reopen on recurrence, assignment, resolution,
// closure and the SLA breach sweep.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alertops-platform/caseflow/internal/model"
	"github.com/alertops-platform/caseflow/internal/repository"
)

// ErrTerminalState is returned when an operation is attempted on a resolved or
// closed case. Terminal cases re-enter the lifecycle only through reopen.
var ErrTerminalState = errors.New("case is in a terminal state")

// ErrInvalidTransition is returned for status changes outside the state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

const actorSystem = "system"

// Writes racing a concurrent editor are retried this many times before the
// conflict surfaces.
const conflictRetries = 3

// CaseStore is the persistence surface the lifecycle needs.
type CaseStore interface {
	Get(ctx context.Context, id string) (*model.Case, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*model.Case, error)
	Create(ctx context.Context, c *model.Case) error
	Update(ctx context.Context, c *model.Case) error
	MarkBreached(ctx context.Context, now time.Time) ([]*model.Case, error)
}

// ActivityStore records the append-only audit trail.
type ActivityStore interface {
	Add(ctx context.Context, a *model.CaseActivity) error
}

// AssignmentResolver turns a rule's pool into the concrete case assignment.
type AssignmentResolver interface {
	Resolve(ctx context.Context, rule *model.RuleAssignment) model.AssignmentInfo
}

// Notifier fans a case event out to its recipients. Fire and forget: delivery
// never blocks case processing and its failures never surface here.
type Notifier interface {
	Notify(c *model.Case, event model.CaseEventType)
}

// Manager drives case state. All alert-driven work for one fingerprint is
// serialized through a per-fingerprint lock, so duplicate webhook deliveries
// cannot create two cases for one fingerprint.
type Manager struct {
	cases    CaseStore
	acts     ActivityStore
	resolver AssignmentResolver
	notifier Notifier
	logger   *slog.Logger

	dedupWindow       time.Duration
	autoCloseResolved bool

	locks *keyLock
	nowFn func() time.Time
}

// NewManager creates a lifecycle manager.
func NewManager(cases CaseStore, acts ActivityStore, resolver AssignmentResolver, notifier Notifier, dedupWindow time.Duration, autoCloseResolved bool, logger *slog.Logger) *Manager {
	return &Manager{
		cases:             cases,
		acts:              acts,
		resolver:          resolver,
		notifier:          notifier,
		logger:            logger,
		dedupWindow:       dedupWindow,
		autoCloseResolved: autoCloseResolved,
		locks:             newKeyLock(),
		nowFn:             time.Now,
	}
}

// slaWindow maps priority, falling back to severity, onto the allowed case age.
func slaWindow(priority int, severity model.CaseSeverity) time.Duration {
	switch priority {
	case model.PriorityUrgent:
		return 4 * time.Hour
	case model.PriorityHigh:
		return 8 * time.Hour
	case model.PriorityMedium:
		return 24 * time.Hour
	case model.PriorityLow:
		return 72 * time.Hour
	}

	switch severity {
	case model.SeverityCritical:
		return 4 * time.Hour
	case model.SeverityHigh:
		return 8 * time.Hour
	case model.SeverityMedium:
		return 24 * time.Hour
	default:
		return 72 * time.Hour
	}
}

func severityPriority(severity model.CaseSeverity) int {
	switch severity {
	case model.SeverityCritical:
		return model.PriorityUrgent
	case model.SeverityHigh:
		return model.PriorityHigh
	case model.SeverityMedium:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// ProcessAlert applies one alert to the case for its fingerprint: create,
// absorb, reopen or resolve. Returns the outcome and the affected case.
func (m *Manager) ProcessAlert(ctx context.Context, alert *model.AlertEvent, fingerprint, ruleUID string, rule *model.RuleAssignment) (string, *model.Case, error) {
	m.locks.lock(fingerprint)
	defer m.locks.unlock(fingerprint)

	existing, err := m.cases.FindByFingerprint(ctx, fingerprint)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", nil, err
	}

	if existing == nil {
		if alert.Status == model.AlertResolved {
			// Resolution signal with no case to resolve.
			return model.OutcomeSuppressed, nil, nil
		}
		c, err := m.createFromAlert(ctx, alert, fingerprint, ruleUID, rule)
		if err != nil {
			return "", nil, err
		}
		return model.OutcomeCreated, c, nil
	}

	if alert.Status == model.AlertResolved {
		return m.resolveFromSignal(ctx, existing)
	}

	if existing.Status.IsTerminal() {
		c, err := m.reopen(ctx, existing)
		if err != nil {
			return "", nil, err
		}
		return model.OutcomeReopened, c, nil
	}

	return m.absorb(ctx, existing)
}

func (m *Manager) createFromAlert(ctx context.Context, alert *model.AlertEvent, fingerprint, ruleUID string, rule *model.RuleAssignment) (*model.Case, error) {
	now := m.nowFn().UTC()
	assignment := m.resolver.Resolve(ctx, rule)
	severity := caseSeverity(alert, rule)
	priority := severityPriority(severity)

	status := model.StatusOpen
	if assignment.HasAssignments() {
		status = model.StatusAssigned
	}

	c := &model.Case{
		ID:          uuid.NewString(),
		Number:      caseNumber(now),
		Title:       caseTitle(alert),
		Description: caseDescription(alert),
		Severity:    severity,
		Priority:    priority,
		Status:      status,
		Assignment:  assignment,
		Fingerprint: fingerprint,
		RuleUID:     ruleUID,
		SLADeadline: now.Add(slaWindow(priority, severity)),
		AlertCount:  1,
		LastAlertAt: now,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   actorSystem,
	}
	if rule != nil {
		c.Category = rule.DefaultCategory
	}

	if err := m.cases.Create(ctx, c); err != nil {
		return nil, err
	}

	m.record(ctx, c.ID, model.ActivityCreated, "", nil, nil,
		fmt.Sprintf("case created from alert, assigned to %s", c.Assignment.Summary()), actorSystem)
	m.notify(c, model.EventCaseCreated)
	return c, nil
}

// absorb folds a recurring alert into the existing open case. Within the
// duplicate window the alert is suppressed silently; past it a recurrence
// activity is recorded.
func (m *Manager) absorb(ctx context.Context, c *model.Case) (string, *model.Case, error) {
	now := m.nowFn().UTC()
	withinWindow := now.Sub(c.LastAlertAt) <= m.dedupWindow

	updated, err := m.updateWithRetry(ctx, c, func(c *model.Case) {
		c.AlertCount++
		c.LastAlertAt = now
		c.UpdatedAt = now
		c.UpdatedBy = actorSystem
	})
	if err != nil {
		return "", nil, err
	}

	if withinWindow {
		return model.OutcomeSuppressed, updated, nil
	}

	m.record(ctx, updated.ID, model.ActivityRecurrence, "", nil, nil,
		fmt.Sprintf("alert recurred, %d alerts total", updated.AlertCount), actorSystem)
	return model.OutcomeUpdated, updated, nil
}

// reopen resets a terminal case to OPEN: resolution state is cleared, the SLA
// clock restarts from the reopen time, and every previous recipient is
// notified once.
func (m *Manager) reopen(ctx context.Context, c *model.Case) (*model.Case, error) {
	now := m.nowFn().UTC()
	oldStatus := c.Status

	updated, err := m.updateWithRetry(ctx, c, func(c *model.Case) {
		c.Status = model.StatusOpen
		c.Resolution = ""
		c.RootCause = ""
		c.ResolutionActions = ""
		c.ResolvedAt = nil
		c.ClosedAt = nil
		c.ClosedBy = ""
		c.ResolutionTimeMinutes = 0
		c.SLABreached = false
		c.SLADeadline = now.Add(slaWindow(c.Priority, c.Severity))
		c.ReopenCount++
		c.AlertCount++
		c.LastAlertAt = now
		c.UpdatedAt = now
		c.UpdatedBy = actorSystem
	})
	if err != nil {
		return nil, err
	}

	m.record(ctx, updated.ID, model.ActivityReopened, "status", oldStatus, model.StatusOpen,
		fmt.Sprintf("alert fired again, case reopened (reopen #%d)", updated.ReopenCount), actorSystem)
	m.notify(updated, model.EventCaseReopened)
	return updated, nil
}

// resolveFromSignal handles the monitoring system reporting the underlying
// condition cleared.
func (m *Manager) resolveFromSignal(ctx context.Context, c *model.Case) (string, *model.Case, error) {
	if c.Status.IsTerminal() {
		return model.OutcomeSuppressed, c, nil
	}

	updated, err := m.resolve(ctx, c, "underlying alert resolved", "", "", actorSystem)
	if err != nil {
		return "", nil, err
	}

	if m.autoCloseResolved {
		closed, err := m.close(ctx, updated, "auto-closed on alert resolution", "", "", actorSystem)
		if err != nil {
			return "", nil, err
		}
		return model.OutcomeResolved, closed, nil
	}

	return model.OutcomeResolved, updated, nil
}

// Assign replaces or extends a case's assignment. An OPEN case that gains
// owners advances to ASSIGNED.
func (m *Manager) Assign(ctx context.Context, caseID string, assignment model.AssignmentInfo, replace bool, actor string) (*model.Case, error) {
	c, err := m.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrTerminalState)
	}

	oldSummary := c.Assignment.Summary()
	now := m.nowFn().UTC()

	updated, err := m.updateWithRetry(ctx, c, func(c *model.Case) {
		if replace {
			c.Assignment.Replace(assignment)
		} else {
			c.Assignment.Merge(assignment)
		}
		if c.Status == model.StatusOpen && c.Assignment.HasAssignments() {
			c.Status = model.StatusAssigned
		} else if c.Status == model.StatusAssigned && !c.Assignment.HasAssignments() {
			// A replace that cleared every owner leaves nobody assigned.
			c.Status = model.StatusOpen
		}
		c.UpdatedAt = now
		c.UpdatedBy = actor
	})
	if err != nil {
		return nil, err
	}

	m.record(ctx, updated.ID, model.ActivityAssigned, "assignment", oldSummary, updated.Assignment.Summary(),
		fmt.Sprintf("assignment changed from %s to %s", oldSummary, updated.Assignment.Summary()), actor)
	m.notify(updated, model.EventCaseAssigned)
	return updated, nil
}

// SetStatus moves a case between the non-terminal states. Resolution and
// closure go through Resolve and Close.
func (m *Manager) SetStatus(ctx context.Context, caseID string, status model.CaseStatus, actor string) (*model.Case, error) {
	switch status {
	case model.StatusOpen, model.StatusAssigned, model.StatusInProgress:
	default:
		return nil, fmt.Errorf("cannot set status %s directly: %w", status, ErrInvalidTransition)
	}

	c, err := m.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrTerminalState)
	}

	oldStatus := c.Status
	now := m.nowFn().UTC()

	updated, err := m.updateWithRetry(ctx, c, func(c *model.Case) {
		c.Status = status
		c.UpdatedAt = now
		c.UpdatedBy = actor
	})
	if err != nil {
		return nil, err
	}

	m.record(ctx, updated.ID, model.ActivityStatusChanged, "status", oldStatus, status,
		fmt.Sprintf("status changed from %s to %s", oldStatus, status), actor)
	return updated, nil
}

// Reclassify updates severity and/or priority. The SLA deadline is recomputed
// from the creation time, so it keeps meaning "total allowed age", not "age
// since the last edit".
func (m *Manager) Reclassify(ctx context.Context, caseID string, severity *model.CaseSeverity, priority *int, actor string) (*model.Case, error) {
	c, err := m.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrTerminalState)
	}

	oldSeverity, oldPriority := c.Severity, c.Priority
	now := m.nowFn().UTC()

	updated, err := m.updateWithRetry(ctx, c, func(c *model.Case) {
		if severity != nil {
			c.Severity = *severity
		}
		if priority != nil {
			c.Priority = *priority
		}
		c.SLADeadline = c.CreatedAt.Add(slaWindow(c.Priority, c.Severity))
		c.UpdatedAt = now
		c.UpdatedBy = actor
	})
	if err != nil {
		return nil, err
	}

	m.record(ctx, updated.ID, model.ActivityReclassified, "classification",
		fmt.Sprintf("%s/P%d", oldSeverity, oldPriority),
		fmt.Sprintf("%s/P%d", updated.Severity, updated.Priority),
		fmt.Sprintf("reclassified from %s/P%d to %s/P%d", oldSeverity, oldPriority, updated.Severity, updated.Priority), actor)
	return updated, nil
}

// Escalate raises the case one priority step and restarts the SLA computation
// from creation time at the new priority.
func (m *Manager) Escalate(ctx context.Context, caseID, actor string) (*model.Case, error) {
	c, err := m.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrTerminalState)
	}
	if c.Priority <= model.PriorityUrgent {
		return c, nil
	}

	oldPriority := c.Priority
	now := m.nowFn().UTC()

	updated, err := m.updateWithRetry(ctx, c, func(c *model.Case) {
		c.Priority--
		c.SLADeadline = c.CreatedAt.Add(slaWindow(c.Priority, c.Severity))
		c.UpdatedAt = now
		c.UpdatedBy = actor
	})
	if err != nil {
		return nil, err
	}

	m.record(ctx, updated.ID, model.ActivityEscalated, "priority", oldPriority, updated.Priority,
		fmt.Sprintf("escalated from P%d to P%d", oldPriority, updated.Priority), actor)
	return updated, nil
}

// Resolve marks a case RESOLVED.
func (m *Manager) Resolve(ctx context.Context, caseID, resolution, rootCause, actions, actor string) (*model.Case, error) {
	c, err := m.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrTerminalState)
	}
	return m.resolve(ctx, c, resolution, rootCause, actions, actor)
}

func (m *Manager) resolve(ctx context.Context, c *model.Case, resolution, rootCause, actions, actor string) (*model.Case, error) {
	now := m.nowFn().UTC()
	oldStatus := c.Status

	updated, err := m.updateWithRetry(ctx, c, func(c *model.Case) {
		c.Status = model.StatusResolved
		c.Resolution = resolution
		c.RootCause = rootCause
		c.ResolutionActions = actions
		c.ResolvedAt = &now
		c.UpdatedAt = now
		c.UpdatedBy = actor
	})
	if err != nil {
		return nil, err
	}

	m.record(ctx, updated.ID, model.ActivityResolved, "status", oldStatus, model.StatusResolved, resolution, actor)
	m.notify(updated, model.EventCaseResolved)
	return updated, nil
}

// Close marks a case CLOSED and records the time to resolution.
func (m *Manager) Close(ctx context.Context, caseID, reason, rootCause, actions, actor string) (*model.Case, error) {
	c, err := m.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == model.StatusClosed {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrTerminalState)
	}
	return m.close(ctx, c, reason, rootCause, actions, actor)
}

func (m *Manager) close(ctx context.Context, c *model.Case, reason, rootCause, actions, actor string) (*model.Case, error) {
	now := m.nowFn().UTC()
	oldStatus := c.Status

	updated, err := m.updateWithRetry(ctx, c, func(c *model.Case) {
		c.Status = model.StatusClosed
		c.Resolution = reason
		if rootCause != "" {
			c.RootCause = rootCause
		}
		if actions != "" {
			c.ResolutionActions = actions
		}
		c.ClosedAt = &now
		c.ClosedBy = actor
		c.ResolutionTimeMinutes = int64(now.Sub(c.CreatedAt) / time.Minute)
		c.UpdatedAt = now
		c.UpdatedBy = actor
	})
	if err != nil {
		return nil, err
	}

	m.record(ctx, updated.ID, model.ActivityClosed, "status", oldStatus, model.StatusClosed, reason, actor)
	m.notify(updated, model.EventCaseClosed)
	return updated, nil
}

// SweepSLA flags every newly-breached non-terminal case and notifies for each.
// The breach predicate lives in the store's UPDATE, so the sweep is idempotent
// and never races a concurrent close.
func (m *Manager) SweepSLA(ctx context.Context) ([]*model.Case, error) {
	now := m.nowFn().UTC()
	breached, err := m.cases.MarkBreached(ctx, now)
	if err != nil {
		return nil, err
	}

	for _, c := range breached {
		m.record(ctx, c.ID, model.ActivitySLABreached, "sla_breached", false, true,
			fmt.Sprintf("SLA deadline %s passed", c.SLADeadline.Format(time.RFC3339)), actorSystem)
		m.notify(c, model.EventSLABreached)
	}
	return breached, nil
}

// notify hands the notifier an independent snapshot. Delivery runs on its own
// goroutine, so it must never share the struct a caller may keep mutating
// (resolve followed by auto-close does exactly that).
func (m *Manager) notify(c *model.Case, event model.CaseEventType) {
	cp := *c
	cp.Assignment = c.Assignment.Clone()
	m.notifier.Notify(&cp, event)
}

// updateWithRetry applies apply to c and writes it back, refetching and
// reapplying when a concurrent editor bumped the version first.
func (m *Manager) updateWithRetry(ctx context.Context, c *model.Case, apply func(*model.Case)) (*model.Case, error) {
	for attempt := 0; ; attempt++ {
		apply(c)
		err := m.cases.Update(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, repository.ErrConflict) || attempt >= conflictRetries-1 {
			return nil, err
		}

		fresh, ferr := m.cases.Get(ctx, c.ID)
		if ferr != nil {
			return nil, ferr
		}
		c = fresh
	}
}

// record appends an activity entry. Best effort: the audit trail never blocks
// the state change it describes.
func (m *Manager) record(ctx context.Context, caseID, typ, field string, oldValue, newValue any, description, actor string) {
	a := &model.CaseActivity{
		ID:          uuid.NewString(),
		CaseID:      caseID,
		Type:        typ,
		Field:       field,
		Description: description,
		Actor:       actor,
		Timestamp:   m.nowFn().UTC(),
	}
	if oldValue != nil {
		a.OldValue, _ = json.Marshal(oldValue)
	}
	if newValue != nil {
		a.NewValue, _ = json.Marshal(newValue)
	}

	if err := m.acts.Add(ctx, a); err != nil {
		m.logger.Warn("failed to record case activity", "case_id", caseID, "type", typ, "error", err)
	}
}

func caseNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("CASE-%s-%s", now.Format("20060102"), suffix)
}

func caseTitle(alert *model.AlertEvent) string {
	if v := alert.Annotations["summary"]; v != "" {
		return v
	}
	if name := alert.Name(); name != "" {
		return name
	}
	return "Alert case"
}

func caseDescription(alert *model.AlertEvent) string {
	return alert.Annotations["description"]
}

// caseSeverity prefers an explicit severity label on the alert, then the
// rule's default, then MEDIUM.
func caseSeverity(alert *model.AlertEvent, rule *model.RuleAssignment) model.CaseSeverity {
	if v := model.CaseSeverity(strings.ToUpper(alert.Labels["severity"])); model.ValidSeverity(v) {
		return v
	}
	if rule != nil && model.ValidSeverity(rule.DefaultSeverity) {
		return rule.DefaultSeverity
	}
	return model.SeverityMedium
}
