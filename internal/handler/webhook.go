package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/alertops-platform/caseflow/internal/ingest"
	"github.com/alertops-platform/caseflow/internal/model"
)

// WebhookHandler receives alert webhooks from the monitoring system.
type WebhookHandler struct {
	ingestor *ingest.Ingestor
	logger   *slog.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(ingestor *ingest.Ingestor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor, logger: logger}
}

// RegisterRoutes registers the webhook route.
func (h *WebhookHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/webhook/alerts", h.Receive).Methods("POST")
}

// Receive ingests one webhook payload. The sender cannot usefully retry on
// application errors, so this always answers 200 with per-alert outcomes;
// failures live in the response body and the audit trail.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var payload model.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("discarding undecodable webhook payload", "error", err)
		respondJSON(w, http.StatusOK, map[string]string{
			"status": "discarded",
			"error":  "invalid payload",
		})
		return
	}

	result := h.ingestor.Ingest(r.Context(), &payload)
	respondJSON(w, http.StatusOK, result)
}
