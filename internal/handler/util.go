// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agentwatch/internal/llm"
	"github.com/capitalize-ai/agentwatch/internal/model"
	"github.com/capitalize-ai/agentwatch/internal/service"
	"github.com/capitalize-ai/agentwatch/internal/storage"
	"github.com/capitalize-ai/agentwatch/internal/tracker"
	"github.com/capitalize-ai/agentwatch/pkg/logger"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var providerErr *llm.ProviderError
	var initErr *tracker.InitializationError
	switch {
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, service.ErrInvalidChatbot),
		errors.Is(err, service.ErrDefaultUndeletable):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrEmptyResult),
		errors.Is(err, service.ErrChatbotNotFound):
		return http.StatusNotFound
	case errors.As(err, &providerErr):
		return http.StatusBadGateway
	case errors.Is(err, tracker.ErrClosed),
		errors.Is(err, tracker.ErrNotInitialized),
		errors.Is(err, service.ErrNoActiveTracker),
		errors.As(err, &initErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Internal errors are
// logged and replaced by fallback.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error, fallback string) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error(fallback, zap.Error(err))
		writeError(w, status, fallback)
		return
	}
	if status == http.StatusBadGateway {
		writeJSON(w, status, map[string]string{
			"error":   fallback,
			"details": err.Error(),
		})
		return
	}
	writeError(w, status, err.Error())
}

// queryInt reads a non-negative integer query parameter, capped at max when max > 0.
func queryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}
