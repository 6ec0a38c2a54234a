package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agentwatch/internal/model"
)

func hubEvent(id string) *model.Event {
	return &model.Event{
		ID:        id,
		SessionID: "s1",
		Type:      model.EventTypeUserMessage,
		Timestamp: time.Now().UTC(),
		Content:   "hi",
	}
}

func TestHub_DeliversToEverySubscriber(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe()
	defer cancelA()
	b, cancelB := h.Subscribe()
	defer cancelB()

	require.NoError(t, h.Publish(context.Background(), hubEvent("e1")))

	assert.Equal(t, "e1", (<-a).ID)
	assert.Equal(t, "e1", (<-b).ID)
}

func TestHub_SubscribersGetCopies(t *testing.T) {
	h := NewHub()
	a, cancel := h.Subscribe()
	defer cancel()

	e := hubEvent("e1")
	require.NoError(t, h.Publish(context.Background(), e))
	got := <-a
	got.Content = "changed"
	assert.Equal(t, "hi", e.Content)
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	h := NewHub()
	a, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, h.Publish(context.Background(), hubEvent("e")))
	}
	assert.Len(t, a, subscriberBuffer)
}

func TestHub_CancelClosesChannel(t *testing.T) {
	h := NewHub()
	a, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers())

	_, open := <-a
	assert.False(t, open)
	require.NoError(t, h.Publish(context.Background(), hubEvent("e1")))
}
