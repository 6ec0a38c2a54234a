package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agentwatch/internal/middleware"
	"github.com/capitalize-ai/agentwatch/internal/model"
	"github.com/capitalize-ai/agentwatch/internal/service"
	"github.com/capitalize-ai/agentwatch/pkg/logger"
)

// ChatbotHandler handles chatbot configuration endpoints.
type ChatbotHandler struct {
	registry *service.Registry
	logger   *logger.Logger
}

// NewChatbotHandler creates a new chatbot handler.
func NewChatbotHandler(registry *service.Registry, log *logger.Logger) *ChatbotHandler {
	return &ChatbotHandler{
		registry: registry,
		logger:   log,
	}
}

// List handles GET /api/chatbots
func (h *ChatbotHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

// Create handles POST /api/chatbots
func (h *ChatbotHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateChatbotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateChatbotFields(req.Name, req.LMStudioURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.registry.Create(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to create chatbot configuration")
		return
	}

	writeJSON(w, http.StatusCreated, cfg)
}

// Update handles PUT /api/chatbots/{id}
func (h *ChatbotHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateChatbotID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.UpdateChatbotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateChatbotFields(req.Name, req.LMStudioURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.registry.Update(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update chatbot configuration")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// Delete handles DELETE /api/chatbots/{id}
func (h *ChatbotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateChatbotID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.registry.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "failed to delete chatbot configuration")
		return
	}

	h.logger.Info("chatbot deleted", zap.String("chatbot_id", id))
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Chatbot configuration deleted",
	})
}

func validateChatbotFields(name, url string) error {
	if err := middleware.ValidateChatbotName(name); err != nil {
		return err
	}
	return middleware.ValidateBackendURL(url)
}
