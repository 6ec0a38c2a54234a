package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/agentwatch/internal/middleware"
	"github.com/capitalize-ai/agentwatch/internal/model"
	"github.com/capitalize-ai/agentwatch/internal/service"
	"github.com/capitalize-ai/agentwatch/internal/tracker"
	"github.com/capitalize-ai/agentwatch/pkg/logger"
)

const (
	testSystemPrompt = "You are a helpful assistant."
	testUserID       = "test-user"
	testMaxTokens    = 100
	testTemperature  = 0.7
)

// ProxyHandler forwards chat traffic through the active tracker.
type ProxyHandler struct {
	registry *service.Registry
	logger   *logger.Logger
}

// NewProxyHandler creates a new proxy handler.
func NewProxyHandler(registry *service.Registry, log *logger.Logger) *ProxyHandler {
	return &ProxyHandler{
		registry: registry,
		logger:   log,
	}
}

func (h *ProxyHandler) active(w http.ResponseWriter) (*tracker.Tracker, bool) {
	id, t, err := h.registry.Active()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "No active tracker available. Please configure a chatbot first.")
		return nil, false
	}
	h.registry.Touch(id)
	return t, true
}

// Chat handles POST /api/proxy/chat
func (h *ProxyHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req model.ProxyChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateChat(req.Message, req.SessionID, req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, ok := h.active(w)
	if !ok {
		return
	}

	mc := &tracker.MessageContext{
		SessionID: req.SessionID,
		UserID:    req.UserID,
	}
	if c := req.Context; c != nil {
		mc.SystemPrompt = c.SystemPrompt
		mc.Temperature = c.Temperature
		mc.MaxTokens = c.MaxTokens
		mc.Model = c.Model
		mc.ConversationHistory = c.ConversationHistory
	}

	start := time.Now()
	reply, err := t.SendMessage(r.Context(), req.Message, mc)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to process message")
		return
	}

	writeJSON(w, http.StatusOK, &model.ProxyChatResponse{
		Response:  reply.Content,
		Status:    "success",
		SessionID: reply.SessionID,
		Tracking: model.ProxyTracking{
			ResponseTime: time.Since(start).Milliseconds(),
			TokensUsed:   reply.TokensUsed,
			Model:        reply.Model,
		},
	})
}

// ChatCompletions handles POST /v1/chat/completions. The last user message
// is the prompt; earlier user and assistant turns become the history.
// Replies are never streamed.
func (h *ProxyHandler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req model.ChatCompletionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prompt, mc := completionContext(&req)
	mc.SessionID = r.Header.Get("X-Session-ID")
	if err := validateChat(prompt, mc.SessionID, mc.UserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, ok := h.active(w)
	if !ok {
		return
	}

	reply, err := t.SendMessage(r.Context(), prompt, mc)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to process request")
		return
	}

	finish := reply.FinishReason
	if finish == "" {
		finish = "stop"
	}
	id := reply.RequestID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}

	w.Header().Set("X-Session-ID", reply.SessionID)
	writeJSON(w, http.StatusOK, &model.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   reply.Model,
		Choices: []model.ChatCompletionChoice{{
			Index:        0,
			Message:      model.ChatMessage{Role: string(model.RoleAssistant), Content: reply.Content},
			FinishReason: finish,
		}},
		Usage: model.ChatCompletionUsage{TotalTokens: reply.TokensUsed},
	})
}

// completionContext splits an OpenAI messages array into the prompt and the
// tracker context. The first system message is the system prompt. Earlier
// turns become user/assistant pairs: consecutive turns of one role are
// joined, an assistant turn with no user turn before it is dropped, and user
// turns left unanswered before the prompt are folded into it.
func completionContext(req *model.ChatCompletionRequest) (string, *tracker.MessageContext) {
	mc := &tracker.MessageContext{
		UserID:      req.User,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	last := -1
	for i, m := range req.Messages {
		if m.Role == string(model.RoleUser) {
			last = i
		}
	}

	var (
		pending []string
		history []string
		prompt  string
	)
	for i, m := range req.Messages {
		switch {
		case m.Role == string(model.RoleSystem):
			if mc.SystemPrompt == "" {
				mc.SystemPrompt = m.Content
			}
		case i == last:
			prompt = joinTurns(append(pending, m.Content))
			pending = nil
		case i > last:
		case m.Role == string(model.RoleUser):
			pending = append(pending, m.Content)
		case m.Role == string(model.RoleAssistant):
			switch {
			case len(pending) > 0:
				history = append(history, joinTurns(pending), m.Content)
				pending = nil
			case len(history) > 0:
				history[len(history)-1] = joinTurns([]string{history[len(history)-1], m.Content})
			}
		}
	}
	mc.ConversationHistory = history
	return prompt, mc
}

func joinTurns(turns []string) string {
	return strings.Join(turns, "\n\n")
}

// Models handles GET /v1/models
func (h *ProxyHandler) Models(w http.ResponseWriter, r *http.Request) {
	t, ok := h.active(w)
	if !ok {
		return
	}

	provider := t.Provider()
	list := &model.ModelList{Object: "list", Data: []model.ModelObject{}}
	for _, id := range provider.Models(r.Context()) {
		list.Data = append(list.Data, model.ModelObject{ID: id, Object: "model", OwnedBy: provider.Name()})
	}
	writeJSON(w, http.StatusOK, list)
}

// TestMessage handles POST /api/test-message
func (h *ProxyHandler) TestMessage(w http.ResponseWriter, r *http.Request) {
	var req model.TestMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = "test-" + uuid.Must(uuid.NewV7()).String()
	}
	if req.UserID == "" {
		req.UserID = testUserID
	}
	if err := validateChat(req.Message, req.SessionID, req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, ok := h.active(w)
	if !ok {
		return
	}

	temperature, maxTokens := testTemperature, testMaxTokens
	reply, err := t.SendMessage(r.Context(), req.Message, &tracker.MessageContext{
		SessionID:    req.SessionID,
		UserID:       req.UserID,
		SystemPrompt: testSystemPrompt,
		Temperature:  &temperature,
		MaxTokens:    &maxTokens,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to send test message")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"response":  reply,
		"sessionId": req.SessionID,
		"userId":    req.UserID,
	})
}

func validateChat(message, sessionID, userID string) error {
	if err := middleware.ValidateMessageContent(message); err != nil {
		return err
	}
	if err := middleware.ValidateSessionID(strings.TrimSpace(sessionID)); err != nil {
		return err
	}
	return middleware.ValidateUserID(userID)
}
