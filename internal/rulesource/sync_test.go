package rulesource

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alertops-platform/caseflow/internal/model"
)

type memRuleStore struct {
	existing map[string]struct{}
	created  []*model.RuleAssignment
	failUID  string
}

func (s *memRuleStore) ExistingRuleUIDs(ctx context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(s.existing))
	for uid := range s.existing {
		out[uid] = struct{}{}
	}
	return out, nil
}

func (s *memRuleStore) Create(ctx context.Context, rule *model.RuleAssignment) error {
	if rule.RuleUID == s.failUID {
		return errors.New("insert failed")
	}
	s.created = append(s.created, rule)
	return nil
}

type sourceFn func(ctx context.Context) ([]ExternalRule, error)

func (f sourceFn) ListRules(ctx context.Context) ([]ExternalRule, error) {
	return f(ctx)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSyncIsAdditiveOnly(t *testing.T) {
	store := &memRuleStore{existing: map[string]struct{}{"known": {}}}
	src := sourceFn(func(ctx context.Context) ([]ExternalRule, error) {
		return []ExternalRule{
			{UID: "known", Title: "Already configured"},
			{UID: "fresh", Title: "High CPU", Folder: "infra", Labels: map[string]string{"severity": "critical"}},
			{UID: "", Title: "broken rule without uid"},
		}, nil
	})

	added, err := NewSyncer(src, store, discardLogger()).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	require.Len(t, store.created, 1)
	rule := store.created[0]
	assert.Equal(t, "fresh", rule.RuleUID)
	assert.Equal(t, "High CPU", rule.RuleName)
	assert.Equal(t, "infra", rule.RuleFolder)
	assert.Equal(t, model.SeverityCritical, rule.DefaultSeverity)
	assert.Equal(t, model.StrategyManual, rule.Strategy)
	assert.True(t, rule.Active)
	assert.Empty(t, rule.AssignedUserIDs, "synced rules start without a pool")
}

func TestSyncKeepsPartialProgress(t *testing.T) {
	store := &memRuleStore{existing: map[string]struct{}{}, failUID: "bad"}
	src := sourceFn(func(ctx context.Context) ([]ExternalRule, error) {
		return []ExternalRule{{UID: "a"}, {UID: "bad"}, {UID: "b"}}, nil
	})

	added, err := NewSyncer(src, store, discardLogger()).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	require.Len(t, store.created, 2)
}

func TestSyncSourceFailure(t *testing.T) {
	store := &memRuleStore{existing: map[string]struct{}{}}
	src := sourceFn(func(ctx context.Context) ([]ExternalRule, error) {
		return nil, errors.New("grafana unreachable")
	})

	_, err := NewSyncer(src, store, discardLogger()).Sync(context.Background())
	assert.Error(t, err)
	assert.Empty(t, store.created)
}

func TestGrafanaClientListRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/provisioning/alert-rules", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"uid":"r1","title":"High CPU","folderUID":"infra","labels":{"severity":"high"}},
			{"uid":"r2","title":"Disk full","folderUID":"infra"}
		]`)
	}))
	defer srv.Close()

	client := NewGrafanaClient(srv.URL, "secret", 5*time.Second)
	rules, err := client.ListRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "r1", rules[0].UID)
	assert.Equal(t, "High CPU", rules[0].Title)
	assert.Equal(t, "high", rules[0].Labels["severity"])
}

func TestGrafanaClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewGrafanaClient(srv.URL, "", 5*time.Second)
	_, err := client.ListRules(context.Background())
	assert.Error(t, err)
}
