package rulesource

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alertops-platform/caseflow/internal/model"
)

// RuleSource lists the external system's alert rules.
type RuleSource interface {
	ListRules(ctx context.Context) ([]ExternalRule, error)
}

// RuleStore is the registry side of the sync.
type RuleStore interface {
	ExistingRuleUIDs(ctx context.Context) (map[string]struct{}, error)
	Create(ctx context.Context, rule *model.RuleAssignment) error
}

// Syncer registers external rules that have no assignment yet. Existing
// assignments are left untouched; a failed create skips that rule and the
// rest of the batch proceeds.
type Syncer struct {
	source RuleSource
	store  RuleStore
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewSyncer creates a syncer.
func NewSyncer(source RuleSource, store RuleStore, logger *slog.Logger) *Syncer {
	return &Syncer{source: source, store: store, logger: logger, nowFn: time.Now}
}

// Sync runs one pass and returns how many rules were newly registered.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	rules, err := s.source.ListRules(ctx)
	if err != nil {
		return 0, err
	}

	existing, err := s.store.ExistingRuleUIDs(ctx)
	if err != nil {
		return 0, err
	}

	now := s.nowFn().UTC()
	added := 0
	for _, r := range rules {
		if r.UID == "" {
			continue
		}
		if _, ok := existing[r.UID]; ok {
			continue
		}

		rule := &model.RuleAssignment{
			ID:              uuid.NewString(),
			RuleUID:         r.UID,
			RuleName:        r.Title,
			RuleFolder:      r.Folder,
			DefaultSeverity: severityFromLabels(r.Labels),
			Strategy:        model.StrategyManual,
			Active:          true,
			CreatedAt:       now,
			UpdatedAt:       now,
			CreatedBy:       "rule-sync",
		}
		if err := s.store.Create(ctx, rule); err != nil {
			// Partial progress is kept; this rule is retried next pass.
			s.logger.Warn("failed to register synced rule", "rule_uid", r.UID, "error", err)
			continue
		}
		added++
	}

	if added > 0 {
		s.logger.Info("rule sync registered new rules", "added", added, "total", len(rules))
	}
	return added, nil
}

// Run syncs on a fixed interval until ctx is cancelled, starting with an
// immediate pass.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	if _, err := s.Sync(ctx); err != nil {
		s.logger.Error("rule sync failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil {
				s.logger.Error("rule sync failed", "error", err)
			}
		}
	}
}

func severityFromLabels(labels map[string]string) model.CaseSeverity {
	if v := model.CaseSeverity(strings.ToUpper(labels["severity"])); model.ValidSeverity(v) {
		return v
	}
	return model.SeverityMedium
}
