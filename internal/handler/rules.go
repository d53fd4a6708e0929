package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/alertops-platform/caseflow/internal/model"
)

// RuleStore is the registry surface behind the rule admin API.
type RuleStore interface {
	Create(ctx context.Context, rule *model.RuleAssignment) error
	Get(ctx context.Context, id string) (*model.RuleAssignment, error)
	GetByRuleUID(ctx context.Context, ruleUID string) (*model.RuleAssignment, error)
	List(ctx context.Context) ([]*model.RuleAssignment, error)
	Update(ctx context.Context, rule *model.RuleAssignment) error
	SetActive(ctx context.Context, id string, active bool, updatedBy string, now time.Time) error
}

// RuleSyncer pulls rules from the monitoring system into the registry.
type RuleSyncer interface {
	Sync(ctx context.Context) (int, error)
}

// RuleHandler administers rule assignments.
type RuleHandler struct {
	rules  RuleStore
	syncer RuleSyncer
}

// NewRuleHandler creates a rule handler. syncer may be nil when no rule source
// is configured; the sync route is then not registered.
func NewRuleHandler(rules RuleStore, syncer RuleSyncer) *RuleHandler {
	return &RuleHandler{rules: rules, syncer: syncer}
}

// RegisterRoutes registers rule administration routes.
func (h *RuleHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/rules", h.CreateRule).Methods("POST")
	r.HandleFunc("/rules", h.ListRules).Methods("GET")
	if h.syncer != nil {
		r.HandleFunc("/rules/sync", h.SyncRules).Methods("POST")
	}
	r.HandleFunc("/rules/{id}", h.GetRule).Methods("GET")
	r.HandleFunc("/rules/{id}", h.UpdateRule).Methods("PUT")
	r.HandleFunc("/rules/{id}/activate", h.SetActive).Methods("POST")
}

type ruleRequest struct {
	RuleUID          string                   `json:"rule_uid"`
	RuleName         string                   `json:"rule_name"`
	RuleFolder       string                   `json:"rule_folder"`
	DefaultSeverity  model.CaseSeverity       `json:"default_severity"`
	DefaultCategory  string                   `json:"default_category"`
	Strategy         model.AssignmentStrategy `json:"strategy"`
	AssignedUserIDs  []string                 `json:"assigned_user_ids"`
	AssignedTeamIDs  []string                 `json:"assigned_team_ids"`
	EscalationTeamID string                   `json:"escalation_team_id"`
}

func (req *ruleRequest) validate() string {
	if req.RuleUID == "" {
		return "rule_uid is required"
	}
	if !model.ValidSeverity(req.DefaultSeverity) {
		return "invalid default_severity"
	}
	if !model.ValidStrategy(req.Strategy) {
		return "invalid strategy"
	}
	return ""
}

// CreateRule registers a new rule assignment.
func (h *RuleHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	if _, err := h.rules.GetByRuleUID(r.Context(), req.RuleUID); err == nil {
		respondError(w, http.StatusConflict, "rule assignment already exists for this rule UID")
		return
	}

	now := time.Now().UTC()
	rule := &model.RuleAssignment{
		ID:               uuid.NewString(),
		RuleUID:          req.RuleUID,
		RuleName:         req.RuleName,
		RuleFolder:       req.RuleFolder,
		DefaultSeverity:  req.DefaultSeverity,
		DefaultCategory:  req.DefaultCategory,
		Strategy:         req.Strategy,
		Active:           true,
		AssignedUserIDs:  req.AssignedUserIDs,
		AssignedTeamIDs:  req.AssignedTeamIDs,
		EscalationTeamID: req.EscalationTeamID,
		CreatedAt:        now,
		UpdatedAt:        now,
		CreatedBy:        actor(r),
	}
	if err := h.rules.Create(r.Context(), rule); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// ListRules lists all rule assignments.
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.List(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rules)
}

// GetRule retrieves a rule assignment by ID.
func (h *RuleHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rule, err := h.rules.Get(r.Context(), id)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// UpdateRule rewrites a rule assignment. The rule UID itself is immutable.
func (h *RuleHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	existing, err := h.rules.Get(r.Context(), id)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RuleUID = existing.RuleUID
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	existing.RuleName = req.RuleName
	existing.RuleFolder = req.RuleFolder
	existing.DefaultSeverity = req.DefaultSeverity
	existing.DefaultCategory = req.DefaultCategory
	existing.Strategy = req.Strategy
	existing.AssignedUserIDs = req.AssignedUserIDs
	existing.AssignedTeamIDs = req.AssignedTeamIDs
	existing.EscalationTeamID = req.EscalationTeamID
	existing.UpdatedAt = time.Now().UTC()
	existing.UpdatedBy = actor(r)

	if err := h.rules.Update(r.Context(), existing); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, existing)
}

// SyncRules runs one additive-only pull from the rule source. Partial progress
// is kept on error.
func (h *RuleHandler) SyncRules(w http.ResponseWriter, r *http.Request) {
	created, err := h.syncer.Sync(r.Context())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"created": created,
			"error":   err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"created": created})
}

// SetActive toggles a rule assignment on or off.
func (h *RuleHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.rules.SetActive(r.Context(), id, req.Active, actor(r), time.Now().UTC()); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}
