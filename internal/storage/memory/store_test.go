package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agentwatch/internal/model"
	"github.com/capitalize-ai/agentwatch/internal/storage"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New(nil)
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func event(id, session, user string, typ model.EventType, offset time.Duration) *model.Event {
	return &model.Event{
		ID:        id,
		SessionID: session,
		UserID:    user,
		Type:      typ,
		Content:   "content " + id,
		Timestamp: base.Add(offset),
	}
}

func TestStore_InitializeAndConnection(t *testing.T) {
	s := New(nil)
	assert.False(t, s.TestConnection(context.Background()))
	require.NoError(t, s.Initialize(context.Background()))
	assert.True(t, s.TestConnection(context.Background()))
	require.NoError(t, s.Close())
	assert.False(t, s.TestConnection(context.Background()))
}

func TestStore_RejectsInvalidEvent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	bad := event("1", "s1", "", model.EventTypeUserMessage, 0)
	bad.Content = ""
	err := s.StoreEvent(ctx, bad)
	assert.True(t, errors.Is(err, model.ErrValidation))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEvents)
}

func TestStore_StoresSanitizedCopies(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	e := event("1", "s1", "u1", model.EventTypeUserMessage, 0)
	e.Content = "card 4111 1111 1111 1111"
	require.NoError(t, s.StoreEvent(ctx, e))

	e.Content = "mutated"

	got, err := s.GetSessionEvents(ctx, "s1", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "card [REDACTED]", got[0].Content)

	got[0].Content = "mutated again"
	again, err := s.GetSessionEvents(ctx, "s1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "card [REDACTED]", again[0].Content)
}

func TestStore_StoreEventsPartialFailure(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	bad := event("2", "s1", "", model.EventTypeUserMessage, time.Second)
	bad.ID = ""
	batch := []*model.Event{
		event("1", "s1", "", model.EventTypeUserMessage, 0),
		bad,
		event("3", "s1", "", model.EventTypeUserMessage, 2*time.Second),
	}

	err := s.StoreEvents(ctx, batch)
	var batchErr *storage.BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, 1, batchErr.Stored)
	assert.True(t, errors.Is(err, model.ErrValidation))
	assert.Len(t, s.All(), 1)
}

func TestStore_Pagination(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.StoreEvent(ctx, event(fmt.Sprint(i), "s1", "u1", model.EventTypeUserMessage, time.Duration(i)*time.Second)))
	}
	require.NoError(t, s.StoreEvent(ctx, event("x", "s2", "u1", model.EventTypeUserMessage, 0)))

	page, err := s.GetSessionEvents(ctx, "s1", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "1", page[0].ID)
	assert.Equal(t, "2", page[1].ID)

	past, err := s.GetSessionEvents(ctx, "s1", 2, 10)
	require.NoError(t, err)
	assert.Empty(t, past)

	user, err := s.GetUserEvents(ctx, "u1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, user, 6)
}

func TestStore_QueryEventsFiltersBeforePaging(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for i := 0; i < 6; i++ {
		e := event(fmt.Sprint(i), "s1", "", model.EventTypeLLMResponse, time.Duration(i)*time.Minute)
		e.Provider = "lm-studio"
		if i%2 == 1 {
			e.Provider = "other"
		}
		require.NoError(t, s.StoreEvent(ctx, e))
	}

	got, err := s.QueryEvents(ctx, model.MetricsQuery{Provider: "lm-studio", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "4", got[1].ID)

	start := base.Add(2 * time.Minute)
	end := base.Add(4 * time.Minute)
	window, err := s.QueryEvents(ctx, model.MetricsQuery{StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	assert.Len(t, window, 3)
}

func TestStore_MetricsOnMissingIDs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.GetSessionMetrics(ctx, "ghost")
	assert.True(t, errors.Is(err, storage.ErrEmptyResult))

	_, err = s.GetUserMetrics(ctx, "ghost")
	assert.True(t, errors.Is(err, storage.ErrEmptyResult))

	_, err = s.GetConversationLog(ctx, "ghost")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	pm, err := s.GetProviderMetrics(ctx, "ghost", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, pm.TotalRequests)
	assert.Equal(t, 0.0, pm.ErrorRate)
}

func TestStore_ConversationLogRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.StoreEvent(ctx, event("3", "s1", "u1", model.EventTypeLLMResponse, 2*time.Second)))
	require.NoError(t, s.StoreEvent(ctx, event("1", "s1", "u1", model.EventTypeUserMessage, 0)))
	require.NoError(t, s.StoreEvent(ctx, event("2", "s1", "u1", model.EventTypeSystemInstruction, time.Second)))

	log, err := s.GetConversationLog(ctx, "s1")
	require.NoError(t, err)
	ids := make([]string, len(log.Interactions))
	for i, in := range log.Interactions {
		ids[i] = in.ID
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)
	assert.Equal(t, 2, log.Metrics.TotalMessages)
}

func TestStore_ConversationLogsPageBySession(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for i, session := range []string{"a", "b", "c"} {
		e := event("e"+session, session, "u1", model.EventTypeUserMessage, time.Duration(i)*time.Second)
		require.NoError(t, s.StoreEvent(ctx, e))
	}
	require.NoError(t, s.StoreEvent(ctx, event("e2a", "a", "u1", model.EventTypeLLMResponse, 10*time.Second)))

	logs, err := s.GetConversationLogs(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "b", logs[0].SessionID)
	assert.Equal(t, "c", logs[1].SessionID)
	assert.Equal(t, "content eb", logs[0].Preview)
}

func TestStore_Report(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	tokens := 5
	for i := 0; i < 3; i++ {
		e := event(fmt.Sprint(i), "s1", "u1", model.EventTypeLLMResponse, time.Duration(i)*time.Hour)
		e.Provider = "lm-studio"
		e.Model = "llama-2-7b"
		e.TokensUsed = &tokens
		require.NoError(t, s.StoreEvent(ctx, e))
	}

	r, err := s.GenerateReport(ctx, model.MetricsQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Summary.TotalEvents)
	assert.Equal(t, 15, r.Summary.TotalTokens)
	assert.Equal(t, 3, r.Breakdown.ByModel["llama-2-7b"])
	require.Len(t, r.TopSessions, 1)
	require.Len(t, r.TopUsers, 1)
	assert.Equal(t, []string{"llama-2-7b"}, r.TopUsers[0].FavoriteModels)
}

func TestStore_DeleteAndStats(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.StoreEvent(ctx, event("1", "s1", "u1", model.EventTypeUserMessage, 0)))
	require.NoError(t, s.StoreEvent(ctx, event("2", "s2", "u1", model.EventTypeUserMessage, 0)))
	require.NoError(t, s.StoreEvent(ctx, event("3", "s3", "u2", model.EventTypeUserMessage, 0)))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalEvents)
	assert.Equal(t, 3, stats.TotalSessions)
	assert.Equal(t, 2, stats.TotalUsers)
	assert.Greater(t, stats.StorageSize, 0)

	require.NoError(t, s.DeleteSessionEvents(ctx, "s3"))
	require.NoError(t, s.DeleteUserEvents(ctx, "u1"))

	stats, err = s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEvents)
	assert.Equal(t, 0, stats.TotalSessions)
}
