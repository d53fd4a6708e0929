package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alertops-platform/caseflow/internal/ingest"
	"github.com/alertops-platform/caseflow/internal/lifecycle"
	"github.com/alertops-platform/caseflow/internal/model"
	"github.com/alertops-platform/caseflow/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Ingestor collaborators.

type ruleLookupFn func(ctx context.Context, ruleUID string) (*model.RuleAssignment, error)

func (f ruleLookupFn) GetByRuleUID(ctx context.Context, ruleUID string) (*model.RuleAssignment, error) {
	return f(ctx, ruleUID)
}

type auditFn func(ctx context.Context, a *model.RawAlert) error

func (f auditFn) Record(ctx context.Context, a *model.RawAlert) error { return f(ctx, a) }

type pipelineFn func(ctx context.Context, alert *model.AlertEvent, fingerprint, ruleUID string, rule *model.RuleAssignment) (string, *model.Case, error)

func (f pipelineFn) ProcessAlert(ctx context.Context, alert *model.AlertEvent, fingerprint, ruleUID string, rule *model.RuleAssignment) (string, *model.Case, error) {
	return f(ctx, alert, fingerprint, ruleUID, rule)
}

func newWebhookRouter(pipeline pipelineFn) *mux.Router {
	ing := ingest.NewIngestor(
		ruleLookupFn(func(ctx context.Context, ruleUID string) (*model.RuleAssignment, error) {
			return nil, repository.ErrNotFound
		}),
		auditFn(func(ctx context.Context, a *model.RawAlert) error { return nil }),
		pipeline,
		discardLogger(),
	)

	r := mux.NewRouter()
	NewWebhookHandler(ing, discardLogger()).RegisterRoutes(r)
	return r
}

func TestWebhookReturnsPerAlertOutcomes(t *testing.T) {
	router := newWebhookRouter(func(ctx context.Context, alert *model.AlertEvent, fingerprint, ruleUID string, rule *model.RuleAssignment) (string, *model.Case, error) {
		if fingerprint == "fp-bad" {
			return "", nil, errors.New("storage down")
		}
		return model.OutcomeCreated, &model.Case{ID: "c1", Number: "CASE-1"}, nil
	})

	body := `{"receiver":"caseflow","status":"firing","alerts":[
		{"fingerprint":"fp-ok","status":"firing"},
		{"fingerprint":"fp-bad","status":"firing"}
	]}`

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/alerts", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code, "webhook senders never get an error status")

	var result model.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "caseflow", result.Receiver)
	require.Len(t, result.Items, 2)
	assert.Equal(t, model.OutcomeCreated, result.Items[0].Outcome)
	assert.Equal(t, model.OutcomeFailed, result.Items[1].Outcome)
	assert.Equal(t, 1, result.Failed)
}

func TestWebhookDiscardsInvalidPayload(t *testing.T) {
	router := newWebhookRouter(func(ctx context.Context, alert *model.AlertEvent, fingerprint, ruleUID string, rule *model.RuleAssignment) (string, *model.Case, error) {
		t.Fatal("pipeline must not run for undecodable payloads")
		return "", nil, nil
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/alerts", strings.NewReader("{not json")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "discarded")
}

// Case handler collaborators.

type caseStoreStub struct {
	cases map[string]*model.Case
}

func (s *caseStoreStub) Get(ctx context.Context, id string) (*model.Case, error) {
	if c, ok := s.cases[id]; ok {
		cp := *c
		cp.Assignment = c.Assignment.Clone()
		return &cp, nil
	}
	return nil, fmt.Errorf("case %s: %w", id, repository.ErrNotFound)
}

func (s *caseStoreStub) List(ctx context.Context, filter *model.CaseFilter) (*model.CaseListResult, error) {
	var out []*model.Case
	for _, c := range s.cases {
		out = append(out, c)
	}
	return &model.CaseListResult{Cases: out, Total: int64(len(out)), Limit: 50}, nil
}

func (s *caseStoreStub) FindByFingerprint(ctx context.Context, fingerprint string) (*model.Case, error) {
	return nil, repository.ErrNotFound
}

func (s *caseStoreStub) Create(ctx context.Context, c *model.Case) error {
	s.cases[c.ID] = c
	return nil
}

func (s *caseStoreStub) Update(ctx context.Context, c *model.Case) error {
	stored, ok := s.cases[c.ID]
	if !ok || stored.Version != c.Version {
		return fmt.Errorf("case %s: %w", c.ID, repository.ErrConflict)
	}
	cp := *c
	cp.Assignment = c.Assignment.Clone()
	cp.Version++
	s.cases[c.ID] = &cp
	c.Version++
	return nil
}

func (s *caseStoreStub) MarkBreached(ctx context.Context, now time.Time) ([]*model.Case, error) {
	return nil, nil
}

type activityStub struct{}

func (activityStub) Add(ctx context.Context, a *model.CaseActivity) error { return nil }

func (activityStub) List(ctx context.Context, caseID string, limit int) ([]*model.CaseActivity, error) {
	return nil, nil
}

type notifierStub struct{}

func (notifierStub) Notify(c *model.Case, event model.CaseEventType) {}

type resolverStub struct{}

func (resolverStub) Resolve(ctx context.Context, rule *model.RuleAssignment) model.AssignmentInfo {
	return model.AssignmentInfo{}
}

type notesStub struct{}

func (notesStub) ListByCase(ctx context.Context, caseID string, limit int) ([]*model.Notification, error) {
	return nil, nil
}

type alertsStub struct{}

func (alertsStub) ListByFingerprint(ctx context.Context, fingerprint string, limit int) ([]*model.RawAlert, error) {
	return nil, nil
}

func newCaseRouter(store *caseStoreStub) *mux.Router {
	manager := lifecycle.NewManager(store, activityStub{}, resolverStub{}, notifierStub{},
		5*time.Minute, false, discardLogger())

	r := mux.NewRouter()
	NewCaseHandler(manager, store, activityStub{}, notesStub{}, alertsStub{}).RegisterRoutes(r)
	return r
}

func seedCase() *model.Case {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &model.Case{
		ID:          "c1",
		Number:      "CASE-20260801-AB12CD",
		Title:       "High CPU",
		Severity:    model.SeverityHigh,
		Priority:    model.PriorityHigh,
		Status:      model.StatusOpen,
		Fingerprint: "fp-1",
		SLADeadline: now.Add(8 * time.Hour),
		AlertCount:  1,
		LastAlertAt: now,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   "system",
	}
}

func TestGetCaseNotFound(t *testing.T) {
	router := newCaseRouter(&caseStoreStub{cases: map[string]*model.Case{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cases/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssignCase(t *testing.T) {
	store := &caseStoreStub{cases: map[string]*model.Case{"c1": seedCase()}}
	router := newCaseRouter(store)

	body := bytes.NewBufferString(`{"user_ids":["u1"]}`)
	req := httptest.NewRequest(http.MethodPost, "/cases/c1/assign", body)
	req.Header.Set("X-User-ID", "lead")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var c model.Case
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, model.StatusAssigned, c.Status)
	assert.Equal(t, []string{"u1"}, c.Assignment.UserIDs())
}

func TestAssignCaseRejectsEmptyBody(t *testing.T) {
	router := newCaseRouter(&caseStoreStub{cases: map[string]*model.Case{"c1": seedCase()}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cases/c1/assign", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCloseThenEditConflicts(t *testing.T) {
	store := &caseStoreStub{cases: map[string]*model.Case{"c1": seedCase()}}
	router := newCaseRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cases/c1/close", strings.NewReader(`{"reason":"fixed"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cases/c1/status", strings.NewReader(`{"status":"IN_PROGRESS"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReclassifyValidation(t *testing.T) {
	router := newCaseRouter(&caseStoreStub{cases: map[string]*model.Case{"c1": seedCase()}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cases/c1/reclassify", strings.NewReader(`{"severity":"EXTREME"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cases/c1/reclassify", strings.NewReader(`{"priority":9}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cases/c1/reclassify", strings.NewReader(`{"priority":3}`)))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestListRawAlertsRequiresFingerprint(t *testing.T) {
	router := newCaseRouter(&caseStoreStub{cases: map[string]*model.Case{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// Rule handler collaborators.

type ruleStoreStub struct {
	byID  map[string]*model.RuleAssignment
	byUID map[string]*model.RuleAssignment
}

func newRuleStoreStub() *ruleStoreStub {
	return &ruleStoreStub{
		byID:  make(map[string]*model.RuleAssignment),
		byUID: make(map[string]*model.RuleAssignment),
	}
}

func (s *ruleStoreStub) Create(ctx context.Context, rule *model.RuleAssignment) error {
	s.byID[rule.ID] = rule
	s.byUID[rule.RuleUID] = rule
	return nil
}

func (s *ruleStoreStub) Get(ctx context.Context, id string) (*model.RuleAssignment, error) {
	if r, ok := s.byID[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("rule assignment %s: %w", id, repository.ErrNotFound)
}

func (s *ruleStoreStub) GetByRuleUID(ctx context.Context, ruleUID string) (*model.RuleAssignment, error) {
	if r, ok := s.byUID[ruleUID]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("rule assignment %s: %w", ruleUID, repository.ErrNotFound)
}

func (s *ruleStoreStub) List(ctx context.Context) ([]*model.RuleAssignment, error) {
	var out []*model.RuleAssignment
	for _, r := range s.byID {
		out = append(out, r)
	}
	return out, nil
}

func (s *ruleStoreStub) Update(ctx context.Context, rule *model.RuleAssignment) error {
	if _, ok := s.byID[rule.ID]; !ok {
		return fmt.Errorf("rule assignment %s: %w", rule.ID, repository.ErrNotFound)
	}
	s.byID[rule.ID] = rule
	s.byUID[rule.RuleUID] = rule
	return nil
}

func (s *ruleStoreStub) SetActive(ctx context.Context, id string, active bool, updatedBy string, now time.Time) error {
	r, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("rule assignment %s: %w", id, repository.ErrNotFound)
	}
	r.Active = active
	return nil
}

type syncerFn func(ctx context.Context) (int, error)

func (f syncerFn) Sync(ctx context.Context) (int, error) { return f(ctx) }

func newRuleRouter(store RuleStore) *mux.Router {
	r := mux.NewRouter()
	NewRuleHandler(store, nil).RegisterRoutes(r)
	return r
}

func TestCreateRuleValidation(t *testing.T) {
	router := newRuleRouter(newRuleStoreStub())

	tests := []struct {
		name string
		body string
	}{
		{"missing rule uid", `{"default_severity":"HIGH","strategy":"MANUAL"}`},
		{"bad severity", `{"rule_uid":"r1","default_severity":"SEVERE","strategy":"MANUAL"}`},
		{"bad strategy", `{"rule_uid":"r1","default_severity":"HIGH","strategy":"RANDOM"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rules", strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateRuleRejectsDuplicateUID(t *testing.T) {
	store := newRuleStoreStub()
	router := newRuleRouter(store)

	body := `{"rule_uid":"abc123","default_severity":"HIGH","strategy":"MANUAL","assigned_user_ids":["u1"]}`

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rules", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rules", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSyncRulesReportsCreatedCount(t *testing.T) {
	r := mux.NewRouter()
	NewRuleHandler(newRuleStoreStub(), syncerFn(func(ctx context.Context) (int, error) {
		return 3, nil
	})).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rules/sync", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"created":3}`, rec.Body.String())
}

func TestSyncRulesRouteAbsentWithoutSource(t *testing.T) {
	router := newRuleRouter(newRuleStoreStub())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rules/sync", nil))

	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestUpdateRuleKeepsUIDImmutable(t *testing.T) {
	store := newRuleStoreStub()
	router := newRuleRouter(store)

	create := `{"rule_uid":"abc123","default_severity":"HIGH","strategy":"MANUAL"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rules", strings.NewReader(create)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.RuleAssignment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	update := `{"rule_uid":"other","default_severity":"LOW","strategy":"ROUND_ROBIN","assigned_user_ids":["u1","u2"]}`
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/rules/"+created.ID, strings.NewReader(update)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated model.RuleAssignment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "abc123", updated.RuleUID, "rule UID cannot change on update")
	assert.Equal(t, model.StrategyRoundRobin, updated.Strategy)
}
