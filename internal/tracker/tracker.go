// Package tracker records chat interactions as events and batches them into storage.
package tracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agentwatch/internal/llm"
	"github.com/capitalize-ai/agentwatch/internal/model"
	"github.com/capitalize-ai/agentwatch/internal/storage"
	"github.com/capitalize-ai/agentwatch/pkg/logger"
	"github.com/capitalize-ai/agentwatch/pkg/metrics"
)

type state int

const (
	stateNew state = iota
	stateReady
	stateFailed
	stateClosed
)

// MessageContext is the optional conversation context of a tracked message.
type MessageContext struct {
	SessionID           string
	UserID              string
	ConversationHistory []string
	SystemPrompt        string
	Temperature         *float64
	MaxTokens           *int
	Model               string
}

func (mc *MessageContext) userID() string {
	if mc == nil {
		return ""
	}
	return mc.UserID
}

// Reply is the result of SendMessage.
type Reply struct {
	*llm.Response
	SessionID string `json:"sessionId"`
	// UserEvent and ResponseEvent report how the two events were tracked.
	UserEvent     *model.TrackingResult `json:"userEvent,omitempty"`
	ResponseEvent *model.TrackingResult `json:"responseEvent,omitempty"`
}

// Tracker sends messages through a provider and records every interaction.
type Tracker struct {
	cfg      Config
	provider llm.Provider
	store    storage.Storage
	logger   *logger.Logger
	queue    *queue

	exclude []*regexp.Regexp
	include []*regexp.Regexp

	mu      sync.RWMutex
	state   state
	initErr error
}

// New creates a tracker. It fails only on invalid content patterns.
func New(provider llm.Provider, store storage.Storage, cfg Config, log *logger.Logger) (*Tracker, error) {
	if log == nil {
		log = logger.NewNop()
	}
	exclude, err := compilePatterns(cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}
	include, err := compilePatterns(cfg.IncludeOnlyPatterns)
	if err != nil {
		return nil, fmt.Errorf("include patterns: %w", err)
	}

	cfg = cfg.clone()
	if cfg.Provider == "" {
		cfg.Provider = provider.Name()
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = provider.Endpoint()
	}

	log = log.Named("tracker")
	return &Tracker{
		cfg:      cfg,
		provider: provider,
		store:    store,
		logger:   log,
		queue:    newQueue(store, log, cfg.BatchSize, cfg.FlushInterval),
		exclude:  exclude,
		include:  include,
	}, nil
}

// Initialize prepares storage, tests both connections and starts the flush
// loop. Calling it again on a ready tracker is a no-op.
func (t *Tracker) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case stateReady:
		return nil
	case stateFailed:
		return t.initErr
	case stateClosed:
		return ErrClosed
	}

	fail := func(err *InitializationError) error {
		t.state = stateFailed
		t.initErr = err
		t.logger.Error("initialization failed", zap.String("component", err.Component), zap.Error(err.Err))
		return err
	}

	if err := t.store.Initialize(ctx); err != nil {
		return fail(&InitializationError{Component: "storage", Err: err})
	}
	if !t.store.TestConnection(ctx) {
		return fail(&InitializationError{Component: "storage", Err: errors.New("connection test failed")})
	}
	if !t.provider.TestConnection(ctx) {
		return fail(&InitializationError{
			Component: "provider",
			Err:       fmt.Errorf("%s at %s unreachable", t.provider.Name(), t.provider.Endpoint()),
		})
	}

	t.queue.start(context.WithoutCancel(ctx))
	t.state = stateReady
	t.logger.Info("tracker initialized",
		zap.String("provider", t.provider.Name()),
		zap.Int("batch_size", t.cfg.BatchSize),
		zap.Duration("flush_interval", t.cfg.FlushInterval),
	)
	return nil
}

func (t *Tracker) ready() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	switch t.state {
	case stateReady:
		return nil
	case stateFailed:
		return t.initErr
	case stateClosed:
		return ErrClosed
	default:
		return ErrNotInitialized
	}
}

// Ready reports whether the tracker accepts events.
func (t *Tracker) Ready() bool {
	return t.ready() == nil
}

// shouldTrack applies the content filters to message events.
func (t *Tracker) shouldTrack(e *model.Event) bool {
	if !e.Type.IsMessage() {
		return true
	}
	for _, re := range t.exclude {
		if re.MatchString(e.Content) {
			return false
		}
	}
	if len(t.include) == 0 {
		return true
	}
	for _, re := range t.include {
		if re.MatchString(e.Content) {
			return true
		}
	}
	return false
}

// anonymize returns a stable pseudonym for a user id.
func anonymize(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return "anon-" + hex.EncodeToString(sum[:8])
}

// applyPolicy strips the fields disabled by configuration.
func (t *Tracker) applyPolicy(e *model.Event) {
	if t.cfg.AnonymizeUserData && e.UserID != "" {
		e.UserID = anonymize(e.UserID)
	}
	if t.cfg.ExcludeSensitiveData || !t.cfg.EnableContextTracking {
		e.Context = nil
	}
	if !t.cfg.EnableTokenCounting {
		e.TokensUsed = nil
	}
	if !t.cfg.EnableResponseTimeTracking {
		e.ResponseTimeMs = nil
		if e.Metadata != nil {
			e.Metadata.Latency = nil
		}
	}
	if !t.cfg.EnableCostTracking && e.Metadata != nil {
		e.Metadata.Cost = nil
	}
}

// track is the single path every event takes to storage. It returns an
// error for invalid events or an unusable tracker; storage failures are
// reported in the result.
func (t *Tracker) track(ctx context.Context, e *model.Event) (*model.TrackingResult, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}

	result := &model.TrackingResult{EventID: e.ID, Timestamp: e.Timestamp}

	if !t.shouldTrack(e) {
		metrics.RecordTracked(string(e.Type), "skipped")
		result.Success = true
		result.Skipped = true
		return result, nil
	}

	t.applyPolicy(e)
	if err := e.Validate(); err != nil {
		metrics.RecordTracked(string(e.Type), "invalid")
		return nil, err
	}

	if err := t.queue.push(ctx, e); err != nil {
		if errors.Is(err, ErrClosed) {
			metrics.RecordTracked(string(e.Type), "rejected")
			return nil, err
		}
		metrics.RecordTracked(string(e.Type), "failed")
		t.logger.Warn("failed to store event",
			zap.String("event_id", e.ID),
			zap.String("session_id", e.SessionID),
			zap.Error(err),
		)
		result.Error = err.Error()
		return result, nil
	}

	metrics.RecordTracked(string(e.Type), "stored")
	result.Success = true
	return result, nil
}

func (t *Tracker) newEvent(sessionID, userID string, typ model.EventType, content string) *model.Event {
	return &model.Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Type:      typ,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  &model.EventMetadata{APIEndpoint: t.cfg.APIEndpoint},
	}
}

func eventContext(mc *MessageContext, withSampling bool) *model.EventContext {
	if mc == nil {
		return nil
	}
	ec := &model.EventContext{
		ConversationHistory: append([]string{}, mc.ConversationHistory...),
		SystemPrompt:        mc.SystemPrompt,
	}
	if withSampling {
		ec.Temperature = mc.Temperature
		ec.MaxTokens = mc.MaxTokens
	}
	return ec
}

// TrackUserMessage records a message sent by the user.
func (t *Tracker) TrackUserMessage(ctx context.Context, sessionID, content string, mc *MessageContext) (*model.TrackingResult, error) {
	e := t.newEvent(sessionID, mc.userID(), model.EventTypeUserMessage, content)
	e.Context = eventContext(mc, false)
	return t.track(ctx, e)
}

// TrackLLMResponse records a provider reply.
func (t *Tracker) TrackLLMResponse(ctx context.Context, sessionID string, resp *llm.Response, mc *MessageContext) (*model.TrackingResult, error) {
	if resp == nil {
		return nil, &model.ValidationError{Field: "content"}
	}
	e := t.newEvent(sessionID, mc.userID(), model.EventTypeLLMResponse, resp.Content)
	e.Model = resp.Model
	e.Provider = resp.Provider
	if e.Provider == "" {
		e.Provider = t.cfg.Provider
	}
	tokens := resp.TokensUsed
	responseTime := resp.ResponseTimeMs
	cost := resp.Cost
	e.TokensUsed = &tokens
	e.ResponseTimeMs = &responseTime
	e.Context = eventContext(mc, true)
	e.Metadata.Cost = &cost
	e.Metadata.Latency = &responseTime
	e.Metadata.FinishReason = resp.FinishReason
	e.Metadata.RequestID = resp.RequestID
	return t.track(ctx, e)
}

// TrackSystemInstruction records a system prompt or instruction.
func (t *Tracker) TrackSystemInstruction(ctx context.Context, sessionID, instruction string, mc *MessageContext) (*model.TrackingResult, error) {
	e := t.newEvent(sessionID, mc.userID(), model.EventTypeSystemInstruction, instruction)
	if mc != nil {
		e.Context = &model.EventContext{ConversationHistory: append([]string{}, mc.ConversationHistory...)}
	}
	return t.track(ctx, e)
}

// TrackError records a failure. The event carries the provider name so it
// counts towards the provider's error rate.
func (t *Tracker) TrackError(ctx context.Context, sessionID string, cause error, mc *MessageContext) (*model.TrackingResult, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	e := t.newEvent(sessionID, mc.userID(), model.EventTypeError, msg)
	e.Provider = t.cfg.Provider
	e.Metadata.Error = msg
	return t.track(ctx, e)
}

// TrackSessionStart records the start of a session.
func (t *Tracker) TrackSessionStart(ctx context.Context, sessionID, userID string) (*model.TrackingResult, error) {
	e := t.newEvent(sessionID, userID, model.EventTypeSessionStart, "session started")
	return t.track(ctx, e)
}

// TrackSessionEnd records the end of a session with its totals when the
// session already has stored events.
func (t *Tracker) TrackSessionEnd(ctx context.Context, sessionID, userID string) (*model.TrackingResult, error) {
	e := t.newEvent(sessionID, userID, model.EventTypeSessionEnd, "session ended")
	if m, err := t.store.GetSessionMetrics(ctx, sessionID); err == nil {
		e.Metadata.Extra = map[string]any{
			"duration_ms":    m.Duration().Milliseconds(),
			"total_messages": m.TotalMessages,
			"total_tokens":   m.TotalTokens,
		}
	}
	return t.track(ctx, e)
}

// TrackModelChange records a switch of model within a session.
func (t *Tracker) TrackModelChange(ctx context.Context, sessionID, previous, next, reason string) (*model.TrackingResult, error) {
	e := t.newEvent(sessionID, "", model.EventTypeModelChange, fmt.Sprintf("model changed from %s to %s", previous, next))
	e.Model = next
	e.Metadata.Extra = map[string]any{"previous": previous, "next": next, "reason": reason}
	return t.track(ctx, e)
}

// TrackProviderChange records a switch of provider within a session.
func (t *Tracker) TrackProviderChange(ctx context.Context, sessionID, previous, next, reason string) (*model.TrackingResult, error) {
	e := t.newEvent(sessionID, "", model.EventTypeProviderChange, fmt.Sprintf("provider changed from %s to %s", previous, next))
	e.Provider = next
	e.Metadata.Extra = map[string]any{"previous": previous, "next": next, "reason": reason}
	return t.track(ctx, e)
}

// SendMessage tracks the user message, calls the provider and tracks the
// reply. On provider failure an error event is recorded and the provider's
// error is returned unchanged.
func (t *Tracker) SendMessage(ctx context.Context, text string, mc *MessageContext) (*Reply, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	if mc == nil {
		mc = &MessageContext{}
	}
	sessionID := mc.SessionID
	if sessionID == "" {
		sessionID = uuid.Must(uuid.NewV7()).String()
	}

	ctx, span := otel.Tracer("agentwatch/tracker").Start(ctx, "tracker.SendMessage")
	span.SetAttributes(attribute.String("session.id", sessionID))
	defer span.End()

	log := t.logger.WithSession(sessionID, mc.UserID)

	userResult, err := t.TrackUserMessage(ctx, sessionID, text, mc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := t.provider.SendMessage(ctx, text, llm.SendOptions{
		Model:               mc.Model,
		ConversationHistory: mc.ConversationHistory,
		SystemPrompt:        mc.SystemPrompt,
		Temperature:         mc.Temperature,
		MaxTokens:           mc.MaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if res, trackErr := t.TrackError(ctx, sessionID, err, mc); trackErr != nil || !res.Success {
			log.Warn("failed to record error event", zap.Error(trackErr), zap.NamedError("cause", err))
		}
		return nil, err
	}

	responseResult, err := t.TrackLLMResponse(ctx, sessionID, resp, mc)
	if err != nil {
		log.Warn("failed to record response event", zap.Error(err))
	}

	return &Reply{
		Response:      resp,
		SessionID:     sessionID,
		UserEvent:     userResult,
		ResponseEvent: responseResult,
	}, nil
}

// Flush writes any queued events now.
func (t *Tracker) Flush(ctx context.Context) error {
	if err := t.ready(); err != nil {
		return err
	}
	return t.queue.flush(ctx, triggerManual)
}

// QueueLen returns the number of events waiting for a flush.
func (t *Tracker) QueueLen() int {
	return t.queue.len()
}

// GetSessionMetrics returns the metrics of a session.
func (t *Tracker) GetSessionMetrics(ctx context.Context, sessionID string) (*model.SessionMetrics, error) {
	return t.store.GetSessionMetrics(ctx, sessionID)
}

// GetUserMetrics returns the metrics of a user.
func (t *Tracker) GetUserMetrics(ctx context.Context, userID string) (*model.UserMetrics, error) {
	return t.store.GetUserMetrics(ctx, userID)
}

// GetProviderMetrics returns the metrics of a provider in an optional window.
func (t *Tracker) GetProviderMetrics(ctx context.Context, provider string, start, end *time.Time) (*model.ProviderMetrics, error) {
	return t.store.GetProviderMetrics(ctx, provider, start, end)
}

// GenerateReport aggregates the events matching query.
func (t *Tracker) GenerateReport(ctx context.Context, query model.MetricsQuery) (*model.TrackingReport, error) {
	return t.store.GenerateReport(ctx, query)
}

// GetStats returns storage statistics.
func (t *Tracker) GetStats(ctx context.Context) (*model.StorageStats, error) {
	return t.store.GetStats(ctx)
}

// Config returns a copy of the configuration.
func (t *Tracker) Config() Config {
	return t.cfg.clone()
}

// Provider returns the provider.
func (t *Tracker) Provider() llm.Provider {
	return t.provider
}

// Storage returns the storage backend.
func (t *Tracker) Storage() storage.Storage {
	return t.store
}

// Close stops the flush loop, flushes what is queued and releases storage
// and provider. Later tracking calls return ErrClosed.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.state == stateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = stateClosed
	t.mu.Unlock()

	var errs []error
	if err := t.queue.stop(ctx); err != nil {
		t.logger.Error("final flush failed, dropping queued events",
			zap.Int("dropped", t.queue.len()),
			zap.Error(err),
		)
		errs = append(errs, err)
	}
	if err := t.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	if closer, ok := t.provider.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
