package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agentwatch/internal/middleware"
	"github.com/capitalize-ai/agentwatch/internal/model"
	natsclient "github.com/capitalize-ai/agentwatch/internal/nats"
	"github.com/capitalize-ai/agentwatch/internal/service"
	"github.com/capitalize-ai/agentwatch/pkg/logger"
	"github.com/capitalize-ai/agentwatch/pkg/metrics"
)

const replayBatchSize = 50

// Replayer reads stored events back from the event stream.
type Replayer interface {
	ReplayEvents(ctx context.Context, sessionID string, afterSequence uint64, limit int) (*natsclient.Replay, error)
}

// StreamHandler serves the live event feed over SSE.
type StreamHandler struct {
	hub       *service.Hub
	replayer  Replayer
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler. replayer is nil when the
// event stream is disabled, in which case after_sequence is ignored.
func NewStreamHandler(hub *service.Hub, replayer Replayer, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		hub:       hub,
		replayer:  replayer,
		logger:    log,
		heartbeat: 30 * time.Second,
	}
}

// ReplayCompleteEvent marks the end of replayed history.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	EventCount   int    `json:"event_count"`
}

// Stream handles GET /api/events/stream
// Supports ?session_id=S to follow one session and ?after_sequence=N to
// replay stored events first.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.URL.Query().Get("session_id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var afterSequence uint64
	replay := false
	if seqStr := r.URL.Query().Get("after_sequence"); seqStr != "" {
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after_sequence must be a non-negative integer")
			return
		}
		afterSequence = seq
		replay = h.replayer != nil
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	// Subscribe before replaying so nothing stored during the replay is missed.
	events, cancel := h.hub.Subscribe()
	defer cancel()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"session_id": sessionID,
	})

	// Events stored during the replay arrive on both paths.
	var replayed map[string]struct{}
	if replay {
		var ok bool
		if replayed, ok = h.replay(ctx, w, flusher, sessionID, afterSequence); !ok {
			return
		}
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("session_id", sessionID))
			return

		case event, open := <-events:
			if !open {
				return
			}
			if sessionID != "" && event.SessionID != sessionID {
				continue
			}
			if _, dup := replayed[event.ID]; dup {
				delete(replayed, event.ID)
				continue
			}
			if err := sendSSEEvent(w, flusher, "event", event); err != nil {
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now().Unix(),
			})
		}
	}
}

// replay sends stored events in batches and returns the ids it sent. It
// returns false when the client went away.
func (h *StreamHandler) replay(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sessionID string, afterSequence uint64) (map[string]struct{}, bool) {
	lastSequence := afterSequence
	total := 0
	sent := make(map[string]struct{})

	for {
		page, err := h.replayer.ReplayEvents(ctx, sessionID, lastSequence, replayBatchSize)
		if err != nil {
			h.logger.Error("failed to replay events", zap.String("session_id", sessionID), zap.Error(err))
			sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
				Code:    "replay_error",
				Message: "Failed to replay events",
			})
			break
		}

		for _, event := range page.Events {
			select {
			case <-ctx.Done():
				return nil, false
			default:
			}
			sendSSEEvent(w, flusher, "event", event)
			sent[event.ID] = struct{}{}
			total++
		}
		lastSequence = page.LastSequence

		if !page.HasMore {
			break
		}
	}

	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{
		LastSequence: lastSequence,
		EventCount:   total,
	})

	h.logger.Info("event replay complete",
		zap.String("session_id", sessionID),
		zap.Int("events_replayed", total),
		zap.Uint64("last_sequence", lastSequence),
	)
	return sent, true
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
