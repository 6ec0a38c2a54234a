// Package memory provides the in-process, volatile storage backend.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agentwatch/internal/model"
	"github.com/capitalize-ai/agentwatch/internal/storage"
	"github.com/capitalize-ai/agentwatch/pkg/logger"
)

// Store keeps events in insertion order in memory.
type Store struct {
	logger *logger.Logger

	mu          sync.RWMutex
	events      []*model.Event
	initialized bool
}

var _ storage.Storage = (*Store)(nil)

// New creates a new in-memory store.
func New(log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{logger: log}
}

// Initialize marks the store ready and discards any previous events.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = nil
	s.initialized = true
	return nil
}

// Close marks the store as no longer connected. Events are kept.
func (s *Store) Close() error {
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
	return nil
}

// TestConnection reports whether the store has been initialized.
func (s *Store) TestConnection(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// StoreEvent validates, sanitizes and appends a copy of event.
func (s *Store) StoreEvent(ctx context.Context, event *model.Event) error {
	clean, err := storage.Prepare(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.events = append(s.events, clean)
	s.mu.Unlock()
	return nil
}

// StoreEvents stores each event independently, stopping at the first failure.
// Events accepted before the failure stay stored.
func (s *Store) StoreEvents(ctx context.Context, events []*model.Event) error {
	for i, e := range events {
		if err := s.StoreEvent(ctx, e); err != nil {
			return &storage.BatchError{Stored: i, Err: err}
		}
	}
	return nil
}

// filter returns clones of the events matching keep, in insertion order.
func (s *Store) filter(keep func(*model.Event) bool) []*model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*model.Event{}
	for _, e := range s.events {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}

func (s *Store) sessionEvents(sessionID string) []*model.Event {
	return s.filter(func(e *model.Event) bool { return e.SessionID == sessionID })
}

func (s *Store) userEvents(userID string) []*model.Event {
	return s.filter(func(e *model.Event) bool { return e.UserID == userID })
}

// GetSessionEvents returns a page of a session's events.
func (s *Store) GetSessionEvents(ctx context.Context, sessionID string, limit, offset int) ([]*model.Event, error) {
	return storage.Paginate(s.sessionEvents(sessionID), limit, offset), nil
}

// GetUserEvents returns a page of a user's events.
func (s *Store) GetUserEvents(ctx context.Context, userID string, limit, offset int) ([]*model.Event, error) {
	return storage.Paginate(s.userEvents(userID), limit, offset), nil
}

// QueryEvents filters then paginates.
func (s *Store) QueryEvents(ctx context.Context, query model.MetricsQuery) ([]*model.Event, error) {
	events := s.filter(query.Matches)
	return storage.Paginate(events, query.Limit, query.Offset), nil
}

// GetSessionMetrics computes metrics over every event of the session.
func (s *Store) GetSessionMetrics(ctx context.Context, sessionID string) (*model.SessionMetrics, error) {
	m, err := storage.SessionMetrics(s.sessionEvents(sessionID))
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return m, nil
}

// GetUserMetrics computes metrics over every event of the user.
func (s *Store) GetUserMetrics(ctx context.Context, userID string) (*model.UserMetrics, error) {
	m, err := storage.UserMetrics(userID, s.userEvents(userID))
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	return m, nil
}

// GetProviderMetrics computes metrics for a provider in an optional window.
func (s *Store) GetProviderMetrics(ctx context.Context, provider string, start, end *time.Time) (*model.ProviderMetrics, error) {
	query := model.MetricsQuery{Provider: provider, StartDate: start, EndDate: end}
	return storage.ProviderMetrics(provider, s.filter(query.Matches), start, end), nil
}

// GenerateReport aggregates the events matching query.
func (s *Store) GenerateReport(ctx context.Context, query model.MetricsQuery) (*model.TrackingReport, error) {
	events, err := s.QueryEvents(ctx, query)
	if err != nil {
		return nil, err
	}
	return storage.BuildReport(events, s.sessionEvents, s.userEvents), nil
}

// GetConversationLog reconstructs a session chronologically.
func (s *Store) GetConversationLog(ctx context.Context, sessionID string) (*model.ConversationLog, error) {
	return storage.BuildConversationLog(sessionID, s.sessionEvents(sessionID))
}

// GetConversationLogs pages over sessions in first-appearance order.
// Sessions whose log cannot be built are skipped.
func (s *Store) GetConversationLogs(ctx context.Context, limit, offset int) ([]model.ConversationSummary, error) {
	s.mu.RLock()
	sessionIDs := storage.DistinctSessions(s.events)
	s.mu.RUnlock()

	summaries := []model.ConversationSummary{}
	for _, id := range storage.Paginate(sessionIDs, limit, offset) {
		log, err := s.GetConversationLog(ctx, id)
		if err != nil {
			s.logger.Debug("skipping conversation", zap.String("session_id", id), zap.Error(err))
			continue
		}
		summaries = append(summaries, storage.Summarize(log))
	}
	return summaries, nil
}

// DeleteSessionEvents removes every event of a session.
func (s *Store) DeleteSessionEvents(ctx context.Context, sessionID string) error {
	s.remove(func(e *model.Event) bool { return e.SessionID == sessionID })
	return nil
}

// DeleteUserEvents removes every event of a user.
func (s *Store) DeleteUserEvents(ctx context.Context, userID string) error {
	s.remove(func(e *model.Event) bool { return e.UserID == userID })
	return nil
}

func (s *Store) remove(drop func(*model.Event) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	for _, e := range s.events {
		if !drop(e) {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(s.events); i++ {
		s.events[i] = nil
	}
	s.events = kept
}

// GetStats returns counts and the serialized size of the event set.
func (s *Store) GetStats(ctx context.Context) (*model.StorageStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := json.Marshal(s.events)
	if err != nil {
		return nil, fmt.Errorf("failed to measure storage size: %w", err)
	}

	return &model.StorageStats{
		TotalEvents:   len(s.events),
		TotalSessions: len(storage.DistinctSessions(s.events)),
		TotalUsers:    len(storage.DistinctUsers(s.events)),
		StorageSize:   len(data),
	}, nil
}

// Clear drops every stored event.
func (s *Store) Clear() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

// All returns copies of every stored event in insertion order.
func (s *Store) All() []*model.Event {
	return s.filter(func(*model.Event) bool { return true })
}
