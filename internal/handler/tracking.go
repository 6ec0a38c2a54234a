package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agentwatch/internal/middleware"
	"github.com/capitalize-ai/agentwatch/internal/model"
	"github.com/capitalize-ai/agentwatch/internal/service"
	"github.com/capitalize-ai/agentwatch/internal/storage"
	"github.com/capitalize-ai/agentwatch/internal/tracker"
	"github.com/capitalize-ai/agentwatch/pkg/logger"
)

const (
	dashboardWindow   = 24 * time.Hour
	defaultEventLimit = 50
	defaultLogLimit   = 20
	defaultFeedLimit  = 20
	maxPageLimit      = 500
)

// TrackingHandler serves the recorded events and their metrics. Routes with
// an {id} parameter read that chatbot's tracker; the others read the active one.
type TrackingHandler struct {
	registry *service.Registry
	logger   *logger.Logger
}

// NewTrackingHandler creates a new tracking handler.
func NewTrackingHandler(registry *service.Registry, log *logger.Logger) *TrackingHandler {
	return &TrackingHandler{
		registry: registry,
		logger:   log,
	}
}

func (h *TrackingHandler) tracker(w http.ResponseWriter, r *http.Request) (*tracker.Tracker, bool) {
	if id := chi.URLParam(r, "id"); id != "" {
		if err := middleware.ValidateChatbotID(id); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return nil, false
		}
		t, err := h.registry.Tracker(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "Tracker not found for this chatbot")
			return nil, false
		}
		return t, true
	}

	_, t, err := h.registry.Active()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "No tracker available. Please configure a chatbot first.")
		return nil, false
	}
	return t, true
}

// Dashboard handles GET /api/dashboard and GET /api/chatbots/{id}/dashboard
func (h *TrackingHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	stats, err := t.GetStats(ctx)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get dashboard data")
		return
	}

	end := time.Now().UTC()
	start := end.Add(-dashboardWindow)
	report, err := t.GenerateReport(ctx, model.MetricsQuery{StartDate: &start, EndDate: &end})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get dashboard data")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":       stats,
		"report":      report.Summary,
		"breakdown":   report.Breakdown,
		"topSessions": report.TopSessions,
		"topUsers":    report.TopUsers,
	})
}

// Sessions handles GET /api/sessions and GET /api/chatbots/{id}/sessions.
// It pages over raw events.
func (h *TrackingHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}

	events, err := t.Storage().QueryEvents(r.Context(), model.MetricsQuery{
		Limit:  queryInt(r, "limit", defaultEventLimit, maxPageLimit),
		Offset: queryInt(r, "offset", 0, 0),
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get sessions")
		return
	}

	writeJSON(w, http.StatusOK, events)
}

// Session handles GET /api/sessions/{sessionId}
func (h *TrackingHandler) Session(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	metrics, err := t.GetSessionMetrics(ctx, sessionID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get session details")
		return
	}
	events, err := t.Storage().GetSessionEvents(ctx, sessionID, 0, 0)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get session details")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sessionID,
		"events":    events,
		"metrics":   metrics,
	})
}

// DeleteSession handles DELETE /api/sessions/{sessionId}
func (h *TrackingHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}

	if err := t.Storage().DeleteSessionEvents(r.Context(), sessionID); err != nil {
		writeServiceError(w, h.logger, err, "failed to delete session")
		return
	}

	h.logger.Info("session events deleted", zap.String("session_id", sessionID))
	w.WriteHeader(http.StatusNoContent)
}

// Conversations handles GET /api/conversations and GET /api/chatbots/{id}/conversations.
// Sessions are listed in first-appearance order.
func (h *TrackingHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", defaultLogLimit, maxPageLimit)
	offset := queryInt(r, "offset", 0, 0)

	logs, err := t.Storage().GetConversationLogs(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get conversation logs")
		return
	}

	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: logs,
		Pagination: model.Pagination{
			Limit:  limit,
			Offset: offset,
			Total:  len(logs),
		},
	})
}

// Conversation handles GET /api/conversations/{sessionId} and
// GET /api/chatbots/{id}/conversations/{sessionId}
func (h *TrackingHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}

	log, err := t.Storage().GetConversationLog(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get conversation log")
		return
	}

	writeJSON(w, http.StatusOK, log)
}

// Users handles GET /api/users. Users are paged in first-appearance order.
func (h *TrackingHandler) Users(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	events, err := t.Storage().QueryEvents(ctx, model.MetricsQuery{})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get users")
		return
	}

	userIDs := storage.Paginate(storage.DistinctUsers(events),
		queryInt(r, "limit", defaultEventLimit, maxPageLimit),
		queryInt(r, "offset", 0, 0),
	)

	users := make([]*model.UserMetrics, 0, len(userIDs))
	for _, id := range userIDs {
		m, err := t.GetUserMetrics(ctx, id)
		if err != nil {
			writeServiceError(w, h.logger, err, "failed to get users")
			return
		}
		users = append(users, m)
	}

	writeJSON(w, http.StatusOK, users)
}

// User handles GET /api/users/{userId}
func (h *TrackingHandler) User(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	metrics, err := t.GetUserMetrics(ctx, userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get user details")
		return
	}
	events, err := t.Storage().GetUserEvents(ctx, userID, 0, 0)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get user details")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId":  userID,
		"events":  events,
		"metrics": metrics,
	})
}

// DeleteUser handles DELETE /api/users/{userId}
func (h *TrackingHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}

	if err := t.Storage().DeleteUserEvents(r.Context(), userID); err != nil {
		writeServiceError(w, h.logger, err, "failed to delete user")
		return
	}

	h.logger.Info("user events deleted", zap.String("user_id", userID))
	w.WriteHeader(http.StatusNoContent)
}

// Provider handles GET /api/providers/{provider}. Optional start and end
// query parameters are RFC 3339 timestamps.
func (h *TrackingHandler) Provider(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}

	start, err := queryTime(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be an RFC 3339 timestamp")
		return
	}
	end, err := queryTime(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be an RFC 3339 timestamp")
		return
	}

	metrics, err := t.GetProviderMetrics(r.Context(), chi.URLParam(r, "provider"), start, end)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get provider metrics")
		return
	}

	writeJSON(w, http.StatusOK, metrics)
}

// Realtime handles GET /api/events/realtime. It returns the most recent
// events, oldest first.
func (h *TrackingHandler) Realtime(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}

	events, err := t.Storage().QueryEvents(r.Context(), model.MetricsQuery{})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get real-time events")
		return
	}

	limit := queryInt(r, "limit", defaultFeedLimit, maxPageLimit)
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	writeJSON(w, http.StatusOK, events)
}

func sessionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "sessionId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session ID is required")
		return "", false
	}
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

func userParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "userId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "user ID is required")
		return "", false
	}
	if err := middleware.ValidateUserID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
