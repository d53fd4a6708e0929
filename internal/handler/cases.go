package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/alertops-platform/caseflow/internal/lifecycle"
	"github.com/alertops-platform/caseflow/internal/model"
)

// CaseReader serves the read-only case endpoints.
type CaseReader interface {
	Get(ctx context.Context, id string) (*model.Case, error)
	List(ctx context.Context, filter *model.CaseFilter) (*model.CaseListResult, error)
}

// ActivityReader lists a case's audit trail.
type ActivityReader interface {
	List(ctx context.Context, caseID string, limit int) ([]*model.CaseActivity, error)
}

// NotificationReader lists a case's notification records.
type NotificationReader interface {
	ListByCase(ctx context.Context, caseID string, limit int) ([]*model.Notification, error)
}

// AlertReader lists the raw-alert audit trail.
type AlertReader interface {
	ListByFingerprint(ctx context.Context, fingerprint string, limit int) ([]*model.RawAlert, error)
}

// CaseHandler handles HTTP requests for case management.
type CaseHandler struct {
	manager *lifecycle.Manager
	cases   CaseReader
	acts    ActivityReader
	notes   NotificationReader
	alerts  AlertReader
}

// NewCaseHandler creates a case handler.
func NewCaseHandler(manager *lifecycle.Manager, cases CaseReader, acts ActivityReader, notes NotificationReader, alerts AlertReader) *CaseHandler {
	return &CaseHandler{manager: manager, cases: cases, acts: acts, notes: notes, alerts: alerts}
}

// RegisterRoutes registers case management routes.
func (h *CaseHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/cases", h.ListCases).Methods("GET")
	r.HandleFunc("/cases/{id}", h.GetCase).Methods("GET")
	r.HandleFunc("/cases/{id}/activities", h.GetActivities).Methods("GET")
	r.HandleFunc("/cases/{id}/notifications", h.GetNotifications).Methods("GET")
	r.HandleFunc("/cases/{id}/assign", h.AssignCase).Methods("POST")
	r.HandleFunc("/cases/{id}/status", h.SetStatus).Methods("POST")
	r.HandleFunc("/cases/{id}/reclassify", h.Reclassify).Methods("POST")
	r.HandleFunc("/cases/{id}/escalate", h.EscalateCase).Methods("POST")
	r.HandleFunc("/cases/{id}/resolve", h.ResolveCase).Methods("POST")
	r.HandleFunc("/cases/{id}/close", h.CloseCase).Methods("POST")
	r.HandleFunc("/alerts", h.ListRawAlerts).Methods("GET")
}

// GetCase retrieves a case by ID.
func (h *CaseHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	c, err := h.cases.Get(r.Context(), id)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ListCases retrieves cases matching the query filters.
func (h *CaseHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	filter := &model.CaseFilter{}
	query := r.URL.Query()

	if statuses := query["status"]; len(statuses) > 0 {
		filter.Status = make([]model.CaseStatus, len(statuses))
		for i, s := range statuses {
			filter.Status[i] = model.CaseStatus(s)
		}
	}
	if severities := query["severity"]; len(severities) > 0 {
		filter.Severity = make([]model.CaseSeverity, len(severities))
		for i, s := range severities {
			filter.Severity[i] = model.CaseSeverity(s)
		}
	}

	filter.AssigneeID = query.Get("assignee")
	filter.TeamID = query.Get("team")
	filter.RuleUID = query.Get("rule_uid")

	if v := query.Get("sla_breached"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			filter.SLABreached = &b
		}
	}
	if v := query.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := query.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := h.cases.List(r.Context(), filter)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetActivities retrieves a case's audit trail.
func (h *CaseHandler) GetActivities(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	activities, err := h.acts.List(r.Context(), id, queryLimit(r, 100))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, activities)
}

// GetNotifications retrieves a case's notification records.
func (h *CaseHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	notifications, err := h.notes.ListByCase(r.Context(), id, queryLimit(r, 100))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, notifications)
}

// AssignCase replaces or extends a case's assignment.
func (h *CaseHandler) AssignCase(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		UserIDs []string `json:"user_ids"`
		TeamIDs []string `json:"team_ids"`
		Replace bool     `json:"replace"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.UserIDs) == 0 && len(req.TeamIDs) == 0 && !req.Replace {
		respondError(w, http.StatusBadRequest, "no assignees given")
		return
	}

	c, err := h.manager.Assign(r.Context(), id, model.NewAssignmentInfo(req.UserIDs, req.TeamIDs), req.Replace, actor(r))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// SetStatus moves a case between the non-terminal states.
func (h *CaseHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Status model.CaseStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.manager.SetStatus(r.Context(), id, req.Status, actor(r))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Reclassify updates a case's severity and/or priority.
func (h *CaseHandler) Reclassify(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Severity *model.CaseSeverity `json:"severity"`
		Priority *int                `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Severity == nil && req.Priority == nil {
		respondError(w, http.StatusBadRequest, "nothing to change")
		return
	}
	if req.Severity != nil && !model.ValidSeverity(*req.Severity) {
		respondError(w, http.StatusBadRequest, "invalid severity")
		return
	}
	if req.Priority != nil && (*req.Priority < model.PriorityUrgent || *req.Priority > model.PriorityLow) {
		respondError(w, http.StatusBadRequest, "invalid priority")
		return
	}

	c, err := h.manager.Reclassify(r.Context(), id, req.Severity, req.Priority, actor(r))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// EscalateCase raises a case's priority one step.
func (h *CaseHandler) EscalateCase(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	c, err := h.manager.Escalate(r.Context(), id, actor(r))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ResolveCase marks a case RESOLVED.
func (h *CaseHandler) ResolveCase(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Resolution        string `json:"resolution"`
		RootCause         string `json:"root_cause"`
		ResolutionActions string `json:"resolution_actions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Resolution == "" {
		respondError(w, http.StatusBadRequest, "resolution is required")
		return
	}

	c, err := h.manager.Resolve(r.Context(), id, req.Resolution, req.RootCause, req.ResolutionActions, actor(r))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// CloseCase marks a case CLOSED.
func (h *CaseHandler) CloseCase(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Reason            string `json:"reason"`
		RootCause         string `json:"root_cause"`
		ResolutionActions string `json:"resolution_actions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		respondError(w, http.StatusBadRequest, "reason is required")
		return
	}

	c, err := h.manager.Close(r.Context(), id, req.Reason, req.RootCause, req.ResolutionActions, actor(r))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ListRawAlerts lists the raw-alert audit trail for a fingerprint.
func (h *CaseHandler) ListRawAlerts(w http.ResponseWriter, r *http.Request) {
	fingerprint := r.URL.Query().Get("fingerprint")
	if fingerprint == "" {
		respondError(w, http.StatusBadRequest, "fingerprint is required")
		return
	}

	alerts, err := h.alerts.ListByFingerprint(r.Context(), fingerprint, queryLimit(r, 50))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, alerts)
}

func queryLimit(r *http.Request, fallback int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
