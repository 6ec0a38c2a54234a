package nats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agentwatch/internal/model"
	"github.com/capitalize-ai/agentwatch/internal/storage"
	"github.com/capitalize-ai/agentwatch/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event *model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func event(id, content string) *model.Event {
	return &model.Event{
		ID:        id,
		SessionID: "s1",
		Type:      model.EventTypeUserMessage,
		Content:   content,
		Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestMirrorStorage_PublishesSanitizedEvents(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	m := NewMirrorStorage(memory.New(nil), nil, pub)
	require.NoError(t, m.Initialize(ctx))

	require.NoError(t, m.StoreEvent(ctx, event("1", "reach me at a@b.io")))

	require.Len(t, pub.events, 1)
	assert.Equal(t, "reach me at [REDACTED]", pub.events[0].Content)

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEvents)
}

func TestMirrorStorage_InvalidEventNotPublished(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	m := NewMirrorStorage(memory.New(nil), nil, pub)

	err := m.StoreEvent(ctx, event("1", ""))
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Empty(t, pub.events)
}

func TestMirrorStorage_PartialBatchPublishesAccepted(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	m := NewMirrorStorage(memory.New(nil), nil, pub)

	err := m.StoreEvents(ctx, []*model.Event{event("1", "one"), event("2", ""), event("3", "three")})
	var batchErr *storage.BatchError
	require.True(t, errors.As(err, &batchErr))

	require.Len(t, pub.events, 1)
	assert.Equal(t, "1", pub.events[0].ID)
}

func TestMirrorStorage_PublishFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	failing := &recordingPublisher{err: errors.New("nats down")}
	ok := &recordingPublisher{}
	backend := memory.New(nil)
	m := NewMirrorStorage(backend, nil, failing, ok)

	require.NoError(t, m.StoreEvents(ctx, []*model.Event{event("1", "one"), event("2", "two")}))
	assert.Len(t, backend.All(), 2)
	assert.Len(t, ok.events, 2)
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "agentwatch.s1.event.llm_response", EventSubject("s1", model.EventTypeLLMResponse))
	assert.Equal(t, "agentwatch.a_b_c.event.error", EventSubject("a.b*c", model.EventTypeError))
	assert.Equal(t, "agentwatch.s1.>", SessionFilter("s1"))
}
