package storage

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/capitalize-ai/agentwatch/internal/model"
)

const (
	favoriteModelsLimit = 5
	topEntriesLimit     = 10
)

// Paginate returns items[offset:offset+limit], clamped. Limit 0 means unlimited.
func Paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// DistinctSessions returns session ids in first-appearance order.
func DistinctSessions(events []*model.Event) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, e := range events {
		if _, ok := seen[e.SessionID]; ok {
			continue
		}
		seen[e.SessionID] = struct{}{}
		ids = append(ids, e.SessionID)
	}
	return ids
}

// DistinctUsers returns non-empty user ids in first-appearance order.
func DistinctUsers(events []*model.Event) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, e := range events {
		if e.UserID == "" {
			continue
		}
		if _, ok := seen[e.UserID]; ok {
			continue
		}
		seen[e.UserID] = struct{}{}
		ids = append(ids, e.UserID)
	}
	return ids
}

// totals holds the sums shared by every aggregate.
type totals struct {
	messages      int
	tokens        int
	cost          float64
	responseSum   int64
	responseCount int
	errors        int
	models        []string
	first, last   time.Time
}

func accumulate(events []*model.Event) totals {
	var t totals
	seenModels := make(map[string]struct{})
	for i, e := range events {
		if i == 0 || e.Timestamp.Before(t.first) {
			t.first = e.Timestamp
		}
		if i == 0 || e.Timestamp.After(t.last) {
			t.last = e.Timestamp
		}
		if e.Type.IsMessage() {
			t.messages++
		}
		if e.Type == model.EventTypeError {
			t.errors++
		}
		t.tokens += e.Tokens()
		t.cost += e.Cost()
		if e.ResponseTimeMs != nil {
			t.responseSum += *e.ResponseTimeMs
			t.responseCount++
		}
		if e.Model != "" {
			if _, ok := seenModels[e.Model]; !ok {
				seenModels[e.Model] = struct{}{}
				t.models = append(t.models, e.Model)
			}
		}
	}
	if t.models == nil {
		t.models = []string{}
	}
	return t
}

func (t totals) averageResponseTime() float64 {
	if t.responseCount == 0 {
		return 0
	}
	return float64(t.responseSum) / float64(t.responseCount)
}

// SessionMetrics derives the metrics of one session from its events.
func SessionMetrics(events []*model.Event) (*model.SessionMetrics, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("session metrics: %w", ErrEmptyResult)
	}
	t := accumulate(events)
	return &model.SessionMetrics{
		SessionID:           events[0].SessionID,
		UserID:              events[0].UserID,
		StartTime:           t.first,
		EndTime:             t.last,
		TotalMessages:       t.messages,
		TotalTokens:         t.tokens,
		TotalCost:           t.cost,
		AverageResponseTime: t.averageResponseTime(),
		ModelsUsed:          t.models,
		Errors:              t.errors,
	}, nil
}

// UserMetrics derives the metrics of one user from their events.
func UserMetrics(userID string, events []*model.Event) (*model.UserMetrics, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("user metrics: %w", ErrEmptyResult)
	}
	t := accumulate(events)

	sessionSizes := make(map[string]int)
	for _, e := range events {
		sessionSizes[e.SessionID]++
	}
	var averageLength float64
	if len(sessionSizes) > 0 {
		averageLength = float64(len(events)) / float64(len(sessionSizes))
	}

	return &model.UserMetrics{
		UserID:               userID,
		TotalSessions:        len(sessionSizes),
		TotalMessages:        t.messages,
		TotalTokens:          t.tokens,
		TotalCost:            t.cost,
		AverageSessionLength: averageLength,
		FavoriteModels:       favoriteModels(events),
		LastActivity:         t.last,
	}, nil
}

// favoriteModels returns the most used models, ties broken by first-seen order.
func favoriteModels(events []*model.Event) []string {
	counts := make(map[string]int)
	var order []string
	for _, e := range events {
		if e.Model == "" {
			continue
		}
		if counts[e.Model] == 0 {
			order = append(order, e.Model)
		}
		counts[e.Model]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > favoriteModelsLimit {
		order = order[:favoriteModelsLimit]
	}
	if order == nil {
		order = []string{}
	}
	return order
}

// ProviderMetrics derives provider metrics from events already filtered to
// that provider and window. An explicit bound overrides the observed range.
func ProviderMetrics(provider string, events []*model.Event, start, end *time.Time) *model.ProviderMetrics {
	t := accumulate(events)

	requests := 0
	for _, e := range events {
		if e.Type == model.EventTypeLLMResponse {
			requests++
		}
	}
	var errorRate float64
	if requests > 0 {
		errorRate = float64(t.errors) / float64(requests)
	}

	tr := model.TimeRange{Start: t.first, End: t.last}
	if start != nil {
		tr.Start = *start
	}
	if end != nil {
		tr.End = *end
	}

	return &model.ProviderMetrics{
		Provider:            provider,
		TotalRequests:       requests,
		TotalTokens:         t.tokens,
		TotalCost:           t.cost,
		AverageResponseTime: t.averageResponseTime(),
		ErrorRate:           errorRate,
		ModelsUsed:          t.models,
		TimeRange:           tr,
	}
}

// EventLookup resolves the full event set of a session or user.
type EventLookup func(id string) []*model.Event

// BuildReport aggregates the filtered events. Top sessions and users are the
// first ten in first-appearance order, each measured over all of its events.
func BuildReport(events []*model.Event, sessionEvents, userEvents EventLookup) *model.TrackingReport {
	t := accumulate(events)
	sessions := DistinctSessions(events)
	users := DistinctUsers(events)

	breakdown := model.ReportBreakdown{
		ByProvider:  make(map[string]int),
		ByModel:     make(map[string]int),
		ByEventType: make(map[string]int),
		ByTime:      make(map[string]int),
	}
	for _, e := range events {
		if e.Provider != "" {
			breakdown.ByProvider[e.Provider]++
		}
		if e.Model != "" {
			breakdown.ByModel[e.Model]++
		}
		breakdown.ByEventType[string(e.Type)]++
		breakdown.ByTime[strconv.Itoa(e.Timestamp.UTC().Hour())]++
	}

	report := &model.TrackingReport{
		Summary: model.ReportSummary{
			TotalEvents:         len(events),
			TotalSessions:       len(sessions),
			TotalUsers:          len(users),
			TotalTokens:         t.tokens,
			TotalCost:           t.cost,
			AverageResponseTime: t.averageResponseTime(),
		},
		Breakdown:   breakdown,
		TopSessions: []model.SessionMetrics{},
		TopUsers:    []model.UserMetrics{},
	}

	for _, id := range Paginate(sessions, topEntriesLimit, 0) {
		if m, err := SessionMetrics(sessionEvents(id)); err == nil {
			report.TopSessions = append(report.TopSessions, *m)
		}
	}
	for _, id := range Paginate(users, topEntriesLimit, 0) {
		if m, err := UserMetrics(id, userEvents(id)); err == nil {
			report.TopUsers = append(report.TopUsers, *m)
		}
	}
	return report
}

// BuildConversationLog reconstructs a session in ascending timestamp order.
func BuildConversationLog(sessionID string, events []*model.Event) (*model.ConversationLog, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	sorted := make([]*model.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	metrics, err := SessionMetrics(sorted)
	if err != nil {
		return nil, err
	}

	interactions := make([]model.Interaction, len(sorted))
	for i, e := range sorted {
		in := model.Interaction{
			ID:             e.ID,
			Timestamp:      e.Timestamp,
			Type:           e.Type,
			Role:           e.Role(),
			Content:        e.Content,
			Metadata:       e.Metadata,
			Context:        e.Context,
			ResponseTimeMs: e.ResponseTimeMs,
			TokensUsed:     e.TokensUsed,
			Model:          e.Model,
			Provider:       e.Provider,
		}
		if e.Metadata != nil {
			in.Cost = e.Metadata.Cost
		}
		interactions[i] = in
	}

	return &model.ConversationLog{
		SessionID:         sessionID,
		UserID:            sorted[0].UserID,
		StartTime:         sorted[0].Timestamp,
		EndTime:           sorted[len(sorted)-1].Timestamp,
		TotalInteractions: len(interactions),
		Interactions:      interactions,
		Metrics:           *metrics,
	}, nil
}

// Summarize builds the list entry for a conversation log.
func Summarize(log *model.ConversationLog) model.ConversationSummary {
	preview := model.NoUserMessagesPreview
	for _, in := range log.Interactions {
		if in.Type == model.EventTypeUserMessage {
			preview = model.Preview(in.Content)
			break
		}
	}
	return model.ConversationSummary{
		SessionID:         log.SessionID,
		UserID:            log.UserID,
		StartTime:         log.StartTime,
		EndTime:           log.EndTime,
		TotalInteractions: log.TotalInteractions,
		LastInteraction:   log.EndTime,
		Preview:           preview,
	}
}
