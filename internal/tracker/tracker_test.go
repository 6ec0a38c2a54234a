package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agentwatch/internal/llm"
	"github.com/capitalize-ai/agentwatch/internal/model"
	"github.com/capitalize-ai/agentwatch/internal/storage"
	"github.com/capitalize-ai/agentwatch/internal/storage/memory"
	"github.com/capitalize-ai/agentwatch/pkg/logger"
)

var errDisk = errors.New("disk full")

// flakyStore wraps the memory backend and fails batch writes on demand.
type flakyStore struct {
	*memory.Store

	mu         sync.Mutex
	failBatch  bool
	failSingle bool
	closed     bool
	batches    [][]string
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memory.New(nil)}
}

func (s *flakyStore) setFailBatch(fail bool) {
	s.mu.Lock()
	s.failBatch = fail
	s.mu.Unlock()
}

func (s *flakyStore) StoreEvent(ctx context.Context, e *model.Event) error {
	s.mu.Lock()
	fail := s.failSingle
	s.mu.Unlock()
	if fail {
		return errDisk
	}
	return s.Store.StoreEvent(ctx, e)
}

func (s *flakyStore) StoreEvents(ctx context.Context, events []*model.Event) error {
	s.mu.Lock()
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	s.batches = append(s.batches, ids)
	fail := s.failBatch
	s.mu.Unlock()
	if fail {
		return errDisk
	}
	return s.Store.StoreEvents(ctx, events)
}

func (s *flakyStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Store.Close()
}

// fakeProvider returns a canned reply or error.
type fakeProvider struct {
	err       error
	reachable bool
	closed    bool
	lastOpts  llm.SendOptions
}

func (p *fakeProvider) SendMessage(ctx context.Context, text string, opts llm.SendOptions) (*llm.Response, error) {
	p.lastOpts = opts
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{
		Content:        "echo: " + text,
		Model:          "llama-2-7b",
		Provider:       "fake",
		TokensUsed:     12,
		ResponseTimeMs: 150,
		Cost:           0.0012,
		FinishReason:   "stop",
	}, nil
}

func (p *fakeProvider) Models(ctx context.Context) []string { return []string{"llama-2-7b"} }
func (p *fakeProvider) Capabilities(ctx context.Context) llm.Capabilities {
	return llm.Capabilities{Models: []string{"llama-2-7b"}}
}
func (p *fakeProvider) TestConnection(ctx context.Context) bool { return p.reachable }
func (p *fakeProvider) Name() string                            { return "fake" }
func (p *fakeProvider) Endpoint() string                        { return "http://fake" }
func (p *fakeProvider) Close() error {
	p.closed = true
	return nil
}

func newTracker(t *testing.T, cfg Config) (*Tracker, *flakyStore, *fakeProvider) {
	t.Helper()
	store := newFlakyStore()
	provider := &fakeProvider{reachable: true}
	tr, err := New(provider, store, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Initialize(context.Background()))
	t.Cleanup(func() { _ = tr.Close(context.Background()) })
	return tr, store, provider
}

// batchConfig disables the timer so only size triggers a flush.
func batchConfig(size int) Config {
	cfg := DefaultConfig()
	cfg.BatchSize = size
	cfg.FlushInterval = 0
	return cfg
}

func TestBatching_FlushesAtBatchSize(t *testing.T) {
	ctx := context.Background()
	tr, store, _ := newTracker(t, batchConfig(3))

	for i := 0; i < 3; i++ {
		res, err := tr.TrackUserMessage(ctx, "s1", "hello", nil)
		require.NoError(t, err)
		assert.True(t, res.Success)
	}
	assert.Len(t, store.All(), 3)
	assert.Equal(t, 0, tr.QueueLen())

	for i := 0; i < 2; i++ {
		_, err := tr.TrackUserMessage(ctx, "s1", "hello", nil)
		require.NoError(t, err)
	}
	assert.Len(t, store.All(), 3)
	assert.Equal(t, 2, tr.QueueLen())

	require.NoError(t, tr.Flush(ctx))
	assert.Len(t, store.All(), 5)
	assert.Equal(t, 0, tr.QueueLen())
}

func TestBatching_CloseFlushesRemainder(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	provider := &fakeProvider{reachable: true}
	tr, err := New(provider, store, batchConfig(3), nil)
	require.NoError(t, err)
	require.NoError(t, tr.Initialize(ctx))

	for i := 0; i < 5; i++ {
		_, err := tr.TrackUserMessage(ctx, "s1", "hello", nil)
		require.NoError(t, err)
	}
	require.NoError(t, tr.Close(ctx))

	assert.Len(t, store.All(), 5)
	assert.True(t, store.closed)
	assert.True(t, provider.closed)
	assert.NoError(t, tr.Close(ctx))
}

func TestBatching_FailedFlushRequeuesInOrder(t *testing.T) {
	ctx := context.Background()
	tr, store, _ := newTracker(t, batchConfig(3))

	var ids []string
	for i := 0; i < 2; i++ {
		res, err := tr.TrackUserMessage(ctx, "s1", "hello", nil)
		require.NoError(t, err)
		ids = append(ids, res.EventID)
	}

	store.setFailBatch(true)
	res, err := tr.TrackUserMessage(ctx, "s1", "hello", nil)
	require.NoError(t, err)
	ids = append(ids, res.EventID)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "disk full")

	assert.Equal(t, 3, tr.QueueLen())
	assert.Empty(t, store.All())

	err = tr.Flush(ctx)
	var writeErr *StorageWriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, 3, writeErr.Count)
	assert.ErrorIs(t, err, errDisk)
	assert.Equal(t, 3, tr.QueueLen())

	store.setFailBatch(false)
	require.NoError(t, tr.Flush(ctx))

	stored := store.All()
	require.Len(t, stored, 3)
	for i, e := range stored {
		assert.Equal(t, ids[i], e.ID)
	}
	for _, batch := range store.batches {
		assert.Equal(t, ids, batch)
	}
}

func TestBatching_TimerFlushes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 10
	cfg.FlushInterval = 10 * time.Millisecond
	tr, store, _ := newTracker(t, cfg)

	_, err := tr.TrackUserMessage(context.Background(), "s1", "hello", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(store.All()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, tr.QueueLen())
}

func TestQueue_PushAfterStopRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	q := newQueue(store, logger.NewNop(), 3, 0)
	event := func(id string) *model.Event {
		return &model.Event{
			ID:        id,
			SessionID: "s1",
			Type:      model.EventTypeUserMessage,
			Content:   "hello",
			Timestamp: time.Now().UTC(),
		}
	}
	require.NoError(t, q.push(ctx, event("e1")))
	assert.Equal(t, 1, q.len())
	require.NoError(t, q.stop(ctx))

	assert.ErrorIs(t, q.push(ctx, event("e2")), ErrClosed)
	assert.Equal(t, 0, q.len())
	stored := store.All()
	require.Len(t, stored, 1)
	assert.Equal(t, "e1", stored[0].ID)
}

// Every call that reports success must be persisted exactly once, whatever
// the interleaving of pushes, size and timer flushes and Close.
func TestConcurrentTrackingAndClose(t *testing.T) {
	const (
		rounds     = 20
		workers    = 8
		perWorker  = 40
		closeAfter = workers * perWorker / 3
	)

	for round := 0; round < rounds; round++ {
		cfg := DefaultConfig()
		cfg.BatchSize = 7
		cfg.FlushInterval = time.Millisecond
		tr, store, _ := newTracker(t, cfg)

		var (
			mu        sync.Mutex
			succeeded []string
			attempts  int
			closeOnce sync.Once
			closeErr  error
			wg        sync.WaitGroup
		)
		closed := make(chan struct{})

		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					res, err := tr.TrackUserMessage(context.Background(), "s1", "hello", nil)

					mu.Lock()
					attempts++
					if err == nil && res.Success {
						succeeded = append(succeeded, res.EventID)
					}
					trigger := attempts == closeAfter
					mu.Unlock()

					if err != nil {
						assert.ErrorIs(t, err, ErrClosed)
					}
					if trigger {
						go closeOnce.Do(func() {
							closeErr = tr.Close(context.Background())
							close(closed)
						})
					}
				}
			}()
		}
		wg.Wait()
		closeOnce.Do(func() {
			closeErr = tr.Close(context.Background())
			close(closed)
		})
		<-closed
		require.NoError(t, closeErr)

		stored := store.All()
		seen := make(map[string]int, len(stored))
		for _, e := range stored {
			seen[e.ID]++
		}
		assert.Len(t, stored, len(succeeded), "round %d", round)
		assert.Len(t, seen, len(stored), "round %d: duplicate event ids", round)
		for _, id := range succeeded {
			assert.Equal(t, 1, seen[id], "round %d: event %s", round, id)
		}
		assert.Equal(t, 0, tr.QueueLen(), "round %d", round)
	}
}

func TestImmediateWriteFailureReportedInResult(t *testing.T) {
	tr, store, _ := newTracker(t, batchConfig(1))
	store.failSingle = true

	res, err := tr.TrackUserMessage(context.Background(), "s1", "hello", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.EventID)
}

func TestSendMessage_TracksBothEvents(t *testing.T) {
	ctx := context.Background()
	tr, store, provider := newTracker(t, batchConfig(1))

	temp := 0.3
	reply, err := tr.SendMessage(ctx, "hi", &MessageContext{
		SessionID:           "s1",
		UserID:              "u1",
		ConversationHistory: []string{"a", "b"},
		SystemPrompt:        "be nice",
		Temperature:         &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", reply.Content)
	assert.Equal(t, "s1", reply.SessionID)
	assert.True(t, reply.UserEvent.Success)
	assert.True(t, reply.ResponseEvent.Success)
	assert.Equal(t, []string{"a", "b"}, provider.lastOpts.ConversationHistory)
	assert.Equal(t, "be nice", provider.lastOpts.SystemPrompt)

	events := store.All()
	require.Len(t, events, 2)
	assert.Equal(t, model.EventTypeUserMessage, events[0].Type)
	assert.Equal(t, model.EventTypeLLMResponse, events[1].Type)
	assert.Equal(t, 12, *events[1].TokensUsed)
	assert.Equal(t, int64(150), *events[1].ResponseTimeMs)
	assert.Equal(t, 0.0012, *events[1].Metadata.Cost)
	assert.Equal(t, 0.3, *events[1].Context.Temperature)
	assert.Equal(t, "http://fake", events[0].Metadata.APIEndpoint)

	m, err := tr.GetSessionMetrics(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, m.TotalMessages)
	assert.Equal(t, 12, m.TotalTokens)
}

func TestSendMessage_GeneratesSessionID(t *testing.T) {
	tr, _, _ := newTracker(t, batchConfig(1))
	reply, err := tr.SendMessage(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, reply.SessionID)
}

func TestSendMessage_ProviderErrorPath(t *testing.T) {
	ctx := context.Background()
	tr, store, provider := newTracker(t, batchConfig(1))
	provider.err = &llm.ProviderError{Op: "chat completion", Endpoint: "http://fake", StatusCode: 500, Err: errors.New("model crashed")}

	_, err := tr.SendMessage(ctx, "hi", &MessageContext{SessionID: "s1"})
	require.Error(t, err)
	assert.Same(t, provider.err, err)

	events, err := store.GetSessionEvents(ctx, "s1", 0, 0)
	require.NoError(t, err)
	var errorEvents []*model.Event
	for _, e := range events {
		if e.Type == model.EventTypeError {
			errorEvents = append(errorEvents, e)
		}
	}
	require.Len(t, errorEvents, 1)
	assert.Contains(t, errorEvents[0].Content, "model crashed")
	assert.Equal(t, "fake", errorEvents[0].Provider)
}

func TestSendMessage_ProviderErrorSurvivesStorageFailure(t *testing.T) {
	tr, store, provider := newTracker(t, batchConfig(1))
	provider.err = errors.New("connection refused")
	store.failSingle = true

	_, err := tr.SendMessage(context.Background(), "hi", &MessageContext{SessionID: "s1"})
	assert.Same(t, provider.err, err)
}

func TestTrackingAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTracker(t, batchConfig(1))
	require.NoError(t, tr.Close(ctx))

	_, err := tr.TrackUserMessage(ctx, "s1", "hello", nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = tr.SendMessage(ctx, "hello", nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, tr.Flush(ctx), ErrClosed)
}

func TestTrackingBeforeInitializeFails(t *testing.T) {
	tr, err := New(&fakeProvider{reachable: true}, newFlakyStore(), batchConfig(1), nil)
	require.NoError(t, err)
	_, err = tr.TrackUserMessage(context.Background(), "s1", "hello", nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestFailedInitializeFailsFast(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{reachable: false}
	tr, err := New(provider, newFlakyStore(), batchConfig(1), nil)
	require.NoError(t, err)

	err = tr.Initialize(ctx)
	var initErr *InitializationError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, "provider", initErr.Component)
	assert.False(t, tr.Ready())

	provider.reachable = true
	assert.ErrorAs(t, tr.Initialize(ctx), &initErr)

	_, err = tr.TrackUserMessage(ctx, "s1", "hello", nil)
	assert.ErrorAs(t, err, &initErr)
}

func TestTrackRejectsInvalidEvent(t *testing.T) {
	tr, store, _ := newTracker(t, batchConfig(1))
	_, err := tr.TrackUserMessage(context.Background(), "", "hello", nil)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = tr.TrackUserMessage(context.Background(), "s1", "", nil)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Empty(t, store.All())
}

func TestContentFilters(t *testing.T) {
	ctx := context.Background()
	cfg := batchConfig(1)
	cfg.ExcludePatterns = []string{`(?i)ignore me`}
	cfg.IncludeOnlyPatterns = []string{`^track`}
	tr, store, _ := newTracker(t, cfg)

	res, err := tr.TrackUserMessage(ctx, "s1", "track this", nil)
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	res, err = tr.TrackUserMessage(ctx, "s1", "track this but IGNORE ME", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Skipped)

	res, err = tr.TrackUserMessage(ctx, "s1", "something else", nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	_, err = tr.TrackSystemInstruction(ctx, "s1", "system prompts are always kept", nil)
	require.NoError(t, err)

	assert.Len(t, store.All(), 2)
}

func TestInvalidPatternRejected(t *testing.T) {
	cfg := batchConfig(1)
	cfg.ExcludePatterns = []string{"("}
	_, err := New(&fakeProvider{}, newFlakyStore(), cfg, nil)
	assert.Error(t, err)
}

func TestPrivacyAndFeatureToggles(t *testing.T) {
	ctx := context.Background()
	cfg := batchConfig(1)
	cfg.AnonymizeUserData = true
	cfg.ExcludeSensitiveData = true
	cfg.EnableTokenCounting = false
	cfg.EnableCostTracking = false
	cfg.EnableResponseTimeTracking = false
	tr, store, _ := newTracker(t, cfg)

	mc := &MessageContext{UserID: "alice", SystemPrompt: "secret prompt", ConversationHistory: []string{"a", "b"}}
	_, err := tr.SendMessage(ctx, "hi", mc)
	require.NoError(t, err)

	events := store.All()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, anonymize("alice"), e.UserID)
		assert.NotEqual(t, "alice", e.UserID)
		assert.Nil(t, e.Context)
	}
	resp := events[1]
	assert.Nil(t, resp.TokensUsed)
	assert.Nil(t, resp.ResponseTimeMs)
	assert.Nil(t, resp.Metadata.Cost)
	assert.Nil(t, resp.Metadata.Latency)
}

func TestSessionLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	tr, store, _ := newTracker(t, batchConfig(1))

	_, err := tr.TrackSessionStart(ctx, "s1", "u1")
	require.NoError(t, err)
	_, err = tr.SendMessage(ctx, "hi", &MessageContext{SessionID: "s1", UserID: "u1"})
	require.NoError(t, err)
	_, err = tr.TrackModelChange(ctx, "s1", "llama-2-7b", "llama-2-13b", "quality")
	require.NoError(t, err)
	_, err = tr.TrackProviderChange(ctx, "s1", "lm-studio", "other", "failover")
	require.NoError(t, err)
	_, err = tr.TrackSessionEnd(ctx, "s1", "u1")
	require.NoError(t, err)

	events := store.All()
	require.Len(t, events, 6)
	end := events[5]
	assert.Equal(t, model.EventTypeSessionEnd, end.Type)
	assert.Equal(t, 2, end.Metadata.Extra["total_messages"])
	assert.Equal(t, 12, end.Metadata.Extra["total_tokens"])
	assert.Equal(t, "llama-2-13b", events[3].Model)
	assert.Equal(t, "other", events[4].Provider)

	m, err := tr.GetSessionMetrics(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, m.TotalMessages)
}

func TestConfigReturnsCopy(t *testing.T) {
	cfg := batchConfig(1)
	cfg.ExcludePatterns = []string{"x"}
	tr, _, _ := newTracker(t, cfg)

	got := tr.Config()
	got.ExcludePatterns[0] = "y"
	got.BatchSize = 99
	assert.Equal(t, "x", tr.Config().ExcludePatterns[0])
	assert.Equal(t, 1, tr.Config().BatchSize)
	assert.Equal(t, "fake", tr.Config().Provider)
}

func TestGettersPassThrough(t *testing.T) {
	ctx := context.Background()
	tr, store, provider := newTracker(t, batchConfig(1))
	assert.Same(t, provider, tr.Provider())
	assert.Same(t, store, tr.Storage())

	_, err := tr.GetUserMetrics(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrEmptyResult)

	stats, err := tr.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEvents)
}
