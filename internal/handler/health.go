package handler

import (
	"net/http"
	"time"

	natsclient "github.com/capitalize-ai/agentwatch/internal/nats"
	"github.com/capitalize-ai/agentwatch/internal/service"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	registry   *service.Registry
	natsClient *natsclient.Client
}

// NewHealthHandler creates a new health handler. natsClient is nil when the
// event stream is disabled.
func NewHealthHandler(registry *service.Registry, natsClient *natsclient.Client) *HealthHandler {
	return &HealthHandler{
		registry:   registry,
		natsClient: natsClient,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.natsClient != nil && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	if _, _, err := h.registry.Active(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// APIHealth handles GET /api/health
func (h *HealthHandler) APIHealth(w http.ResponseWriter, r *http.Request) {
	configs, trackers := h.registry.Counts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"timestamp":      time.Now().UTC(),
		"activeTrackers": trackers,
		"totalConfigs":   configs,
	})
}
