// Package notify fans case events out to their recipients: exactly one
// notification per distinct recipient across overlapping user and team
// assignments, an audit record per delivery, and best-effort transports that
// never fail the case pipeline.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alertops-platform/caseflow/internal/model"
	"github.com/alertops-platform/caseflow/internal/repository"
)

// NotificationStore persists the per-delivery audit trail.
type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
	UpdateStatus(ctx context.Context, id, status, errMsg string, sentAt *time.Time) error
}

// Directory resolves recipients.
type Directory interface {
	FindUser(ctx context.Context, id string) (*model.User, error)
	TeamMembers(ctx context.Context, teamID string) ([]*model.User, error)
}

// RuleLookup fetches the rule behind a case, for escalation-team routing on
// SLA breaches.
type RuleLookup interface {
	GetByRuleUID(ctx context.Context, ruleUID string) (*model.RuleAssignment, error)
}

const deliveryTimeout = 30 * time.Second

// The shared realtime channel every case event is pushed to.
const casesChannel = "cases"

// Fanout delivers case events. Notify returns immediately; delivery runs in
// its own goroutine and failures are recorded, logged and dropped.
type Fanout struct {
	store     NotificationStore
	directory Directory
	rules     RuleLookup
	email     EmailProvider // nil when no provider is configured
	realtime  RealtimePublisher
	events    EventPublisher
	templates *TemplateSet
	logger    *slog.Logger

	adminChannel string
	adminEmail   string

	wg    sync.WaitGroup
	nowFn func() time.Time
}

// NewFanout creates a fan-out.
func NewFanout(store NotificationStore, directory Directory, rules RuleLookup, email EmailProvider, realtime RealtimePublisher, events EventPublisher, templates *TemplateSet, adminChannel, adminEmail string, logger *slog.Logger) *Fanout {
	return &Fanout{
		store:        store,
		directory:    directory,
		rules:        rules,
		email:        email,
		realtime:     realtime,
		events:       events,
		templates:    templates,
		logger:       logger,
		adminChannel: adminChannel,
		adminEmail:   adminEmail,
		nowFn:        time.Now,
	}
}

// Notify schedules delivery of one case event and returns immediately.
func (f *Fanout) Notify(c *model.Case, event model.CaseEventType) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		f.deliver(ctx, c, event)
	}()
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown.
func (f *Fanout) Wait() {
	f.wg.Wait()
}

func (f *Fanout) deliver(ctx context.Context, c *model.Case, event model.CaseEventType) {
	now := f.nowFn().UTC()
	evt := &model.CaseEvent{
		Type:        event,
		CaseID:      c.ID,
		CaseNumber:  c.Number,
		Title:       c.Title,
		Severity:    c.Severity,
		Priority:    c.Priority,
		SLADeadline: c.SLADeadline,
		OccurredAt:  now,
	}

	if err := f.events.Publish(ctx, evt); err != nil {
		f.logger.Warn("failed to publish case event", "case_id", c.ID, "type", event, "error", err)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		f.logger.Error("failed to encode case event", "case_id", c.ID, "error", err)
		return
	}

	subject, body := f.templates.Render(event, c)

	recipients := f.recipients(ctx, c, event)
	if len(recipients) == 0 {
		// Unowned cases get no per-user deliveries, only the admin routing.
		f.notifyAdmin(ctx, c, event, subject, body, payload)
	} else {
		for userID, user := range recipients {
			f.notifyUser(ctx, c, event, userID, user, subject, body, payload)
		}
	}

	// Shared dashboard feed carries every case event, owned or not.
	if err := f.realtime.Publish(ctx, casesChannel, payload); err != nil {
		f.logger.Warn("failed to push realtime event", "case_id", c.ID, "error", err)
	}
}

// recipients collects the distinct users to notify: directly assigned users,
// members of assigned teams, and on SLA breach the rule's escalation team.
// A user reached through several paths appears exactly once. Users that could
// not be resolved map to nil and are recorded as failed deliveries.
func (f *Fanout) recipients(ctx context.Context, c *model.Case, event model.CaseEventType) map[string]*model.User {
	out := make(map[string]*model.User)

	for _, id := range c.Assignment.UserIDs() {
		user, err := f.directory.FindUser(ctx, id)
		if err != nil {
			f.logger.Warn("assigned user not resolvable", "case_id", c.ID, "user_id", id, "error", err)
			out[id] = nil
			continue
		}
		out[id] = user
	}

	teamIDs := c.Assignment.TeamIDs()
	if event == model.EventSLABreached {
		if teamID := f.escalationTeam(ctx, c); teamID != "" {
			teamIDs = append(teamIDs, teamID)
		}
	}

	for _, teamID := range teamIDs {
		members, err := f.directory.TeamMembers(ctx, teamID)
		if err != nil {
			f.logger.Warn("team members not resolvable", "case_id", c.ID, "team_id", teamID, "error", err)
			continue
		}
		for _, member := range members {
			if _, seen := out[member.ID]; !seen {
				out[member.ID] = member
			}
		}
	}

	return out
}

func (f *Fanout) escalationTeam(ctx context.Context, c *model.Case) string {
	if c.RuleUID == "" {
		return ""
	}
	rule, err := f.rules.GetByRuleUID(ctx, c.RuleUID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			f.logger.Warn("rule lookup for escalation failed", "case_id", c.ID, "rule_uid", c.RuleUID, "error", err)
		}
		return ""
	}
	return rule.EscalationTeamID
}

// notifyUser records and attempts one delivery. Email when a provider and
// address are available, otherwise a realtime push to the user's channel.
func (f *Fanout) notifyUser(ctx context.Context, c *model.Case, event model.CaseEventType, userID string, user *model.User, subject, body string, payload []byte) {
	channel := model.ChannelRealtime
	if f.email != nil && user != nil && user.Email != "" {
		channel = model.ChannelEmail
	}

	n := &model.Notification{
		ID:        uuid.NewString(),
		Recipient: userID,
		Channel:   channel,
		Type:      event,
		Subject:   subject,
		Message:   body,
		Status:    model.NotificationPending,
		CaseID:    c.ID,
		CreatedAt: f.nowFn().UTC(),
	}
	if err := f.store.Create(ctx, n); err != nil {
		f.logger.Error("failed to record notification", "case_id", c.ID, "recipient", userID, "error", err)
		return
	}

	if user == nil {
		f.finish(ctx, n, errors.New("user not found in directory"))
		return
	}

	var sendErr error
	if channel == model.ChannelEmail {
		sendErr = f.email.Send(ctx, user.Email, subject, body)
	} else {
		sendErr = f.realtime.Publish(ctx, "user:"+userID, payload)
	}
	f.finish(ctx, n, sendErr)
}

// notifyAdmin routes an unowned case's event to the administrative channel,
// plus the admin mailbox when one is configured.
func (f *Fanout) notifyAdmin(ctx context.Context, c *model.Case, event model.CaseEventType, subject, body string, payload []byte) {
	n := &model.Notification{
		ID:        uuid.NewString(),
		Recipient: f.adminChannel,
		Channel:   model.ChannelAdmin,
		Type:      event,
		Subject:   subject,
		Message:   body,
		Status:    model.NotificationPending,
		CaseID:    c.ID,
		CreatedAt: f.nowFn().UTC(),
	}
	if err := f.store.Create(ctx, n); err != nil {
		f.logger.Error("failed to record admin notification", "case_id", c.ID, "error", err)
		return
	}
	f.finish(ctx, n, f.realtime.Publish(ctx, f.adminChannel, payload))

	if f.email != nil && f.adminEmail != "" {
		m := &model.Notification{
			ID:        uuid.NewString(),
			Recipient: f.adminEmail,
			Channel:   model.ChannelEmail,
			Type:      event,
			Subject:   subject,
			Message:   body,
			Status:    model.NotificationPending,
			CaseID:    c.ID,
			CreatedAt: f.nowFn().UTC(),
		}
		if err := f.store.Create(ctx, m); err != nil {
			f.logger.Error("failed to record admin notification", "case_id", c.ID, "error", err)
			return
		}
		f.finish(ctx, m, f.email.Send(ctx, f.adminEmail, subject, body))
	}
}

// finish records the transport outcome on the notification.
func (f *Fanout) finish(ctx context.Context, n *model.Notification, sendErr error) {
	status := model.NotificationSent
	errMsg := ""
	var sentAt *time.Time
	if sendErr != nil {
		status = model.NotificationFailed
		errMsg = sendErr.Error()
		f.logger.Warn("notification delivery failed",
			"notification_id", n.ID, "recipient", n.Recipient, "channel", n.Channel, "error", sendErr)
	} else {
		now := f.nowFn().UTC()
		sentAt = &now
	}

	if err := f.store.UpdateStatus(ctx, n.ID, status, errMsg, sentAt); err != nil {
		f.logger.Error("failed to update notification status", "notification_id", n.ID, "error", err)
	}
}
