// Package service holds the process-wide chatbot registry and the live
// event hub used by the HTTP layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agentwatch/internal/llm"
	"github.com/capitalize-ai/agentwatch/internal/model"
	natsclient "github.com/capitalize-ai/agentwatch/internal/nats"
	"github.com/capitalize-ai/agentwatch/internal/storage/memory"
	"github.com/capitalize-ai/agentwatch/internal/tracker"
	"github.com/capitalize-ai/agentwatch/pkg/logger"
)

var (
	ErrChatbotNotFound    = errors.New("chatbot configuration not found")
	ErrInvalidChatbot     = errors.New("name and lmStudioUrl are required")
	ErrDefaultUndeletable = errors.New("cannot delete default configuration")
	ErrNoActiveTracker    = errors.New("no active tracker available")
)

// TrackerFactory builds and initializes a tracker for a chatbot.
type TrackerFactory func(ctx context.Context, cfg model.ChatbotConfig) (*tracker.Tracker, error)

// NewTrackerFactory returns a factory that pairs an LM Studio provider with a
// fresh in-memory store mirrored to publishers. Every tracker starts from base.
func NewTrackerFactory(base tracker.Config, log *logger.Logger, publishers ...natsclient.Publisher) TrackerFactory {
	if log == nil {
		log = logger.NewNop()
	}
	return func(ctx context.Context, cfg model.ChatbotConfig) (*tracker.Tracker, error) {
		chatLog := log.WithChatbot(cfg.ID)
		provider := llm.NewLMStudioProvider(cfg.LMStudioURL, base.APIKey, chatLog)
		store := natsclient.NewMirrorStorage(memory.New(chatLog), chatLog, publishers...)

		trackerCfg := base
		trackerCfg.Provider = provider.Name()
		trackerCfg.APIEndpoint = provider.Endpoint()

		t, err := tracker.New(provider, store, trackerCfg, chatLog)
		if err != nil {
			return nil, err
		}
		if err := t.Initialize(ctx); err != nil {
			_ = t.Close(ctx)
			return nil, err
		}
		return t, nil
	}
}

// Registry holds chatbot configurations and their trackers. Configurations
// are listed in creation order.
type Registry struct {
	factory TrackerFactory
	logger  *logger.Logger

	mu       sync.RWMutex
	order    []string
	configs  map[string]*model.ChatbotConfig
	trackers map[string]*tracker.Tracker
}

// NewRegistry creates an empty registry.
func NewRegistry(factory TrackerFactory, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{
		factory:  factory,
		logger:   log.Named("registry"),
		configs:  make(map[string]*model.ChatbotConfig),
		trackers: make(map[string]*tracker.Tracker),
	}
}

// AddDefault registers the default configuration and starts its tracker.
func (r *Registry) AddDefault(ctx context.Context, lmStudioURL string) model.ChatbotConfig {
	cfg := &model.ChatbotConfig{
		ID:          model.DefaultChatbotID,
		Name:        "LM Studio Monitor",
		Description: "Monitors LM Studio at " + lmStudioURL,
		LMStudioURL: lmStudioURL,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}

	r.mu.Lock()
	r.insert(cfg)
	r.mu.Unlock()

	r.startTracker(ctx, *cfg)
	return *cfg
}

func (r *Registry) insert(cfg *model.ChatbotConfig) {
	if _, exists := r.configs[cfg.ID]; !exists {
		r.order = append(r.order, cfg.ID)
	}
	r.configs[cfg.ID] = cfg
}

// startTracker builds a tracker for cfg. A failure leaves the chatbot
// registered without a tracker.
func (r *Registry) startTracker(ctx context.Context, cfg model.ChatbotConfig) {
	t, err := r.factory(ctx, cfg)
	if err != nil {
		r.logger.WithChatbot(cfg.ID).Warn("failed to initialize tracker",
			zap.String("url", cfg.LMStudioURL),
			zap.Error(err),
		)
		return
	}

	r.mu.Lock()
	_, stillRegistered := r.configs[cfg.ID]
	old := r.trackers[cfg.ID]
	if stillRegistered {
		r.trackers[cfg.ID] = t
	}
	r.mu.Unlock()

	if old != nil {
		r.closeTracker(ctx, cfg.ID, old)
	}
	if !stillRegistered {
		r.closeTracker(ctx, cfg.ID, t)
		return
	}
	r.logger.WithChatbot(cfg.ID).Info("tracker initialized", zap.String("name", cfg.Name))
}

func (r *Registry) stopTracker(ctx context.Context, id string) {
	r.mu.Lock()
	t := r.trackers[id]
	delete(r.trackers, id)
	r.mu.Unlock()

	if t != nil {
		r.closeTracker(ctx, id, t)
	}
}

func (r *Registry) closeTracker(ctx context.Context, id string, t *tracker.Tracker) {
	if err := t.Close(ctx); err != nil {
		r.logger.WithChatbot(id).Warn("failed to close tracker", zap.Error(err))
	}
}

// List returns every configuration with its tracker state.
func (r *Registry) List() []model.ChatbotStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ChatbotStatus, 0, len(r.order))
	for _, id := range r.order {
		_, has := r.trackers[id]
		out = append(out, model.ChatbotStatus{ChatbotConfig: *r.configs[id], HasTracker: has})
	}
	return out
}

// Get returns a configuration by id.
func (r *Registry) Get(id string) (model.ChatbotConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[id]
	if !ok {
		return model.ChatbotConfig{}, fmt.Errorf("chatbot %s: %w", id, ErrChatbotNotFound)
	}
	return *cfg, nil
}

// Create registers a chatbot and starts its tracker when active.
func (r *Registry) Create(ctx context.Context, req *model.CreateChatbotRequest) (model.ChatbotConfig, error) {
	if req.Name == "" || req.LMStudioURL == "" {
		return model.ChatbotConfig{}, ErrInvalidChatbot
	}

	cfg := &model.ChatbotConfig{
		ID:          "chatbot_" + uuid.Must(uuid.NewV7()).String(),
		Name:        req.Name,
		Description: req.Description,
		LMStudioURL: req.LMStudioURL,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
	if req.IsActive != nil {
		cfg.IsActive = *req.IsActive
	}

	r.mu.Lock()
	r.insert(cfg)
	r.mu.Unlock()

	r.logger.Info("chatbot created", zap.String("chatbot_id", cfg.ID), zap.String("name", cfg.Name))

	if cfg.IsActive {
		r.startTracker(ctx, *cfg)
	}
	return *cfg, nil
}

// Update changes a configuration. The tracker is rebuilt when the URL or
// the active flag changes.
func (r *Registry) Update(ctx context.Context, id string, req *model.UpdateChatbotRequest) (model.ChatbotConfig, error) {
	r.mu.Lock()
	cfg, ok := r.configs[id]
	if !ok {
		r.mu.Unlock()
		return model.ChatbotConfig{}, fmt.Errorf("chatbot %s: %w", id, ErrChatbotNotFound)
	}
	previous := *cfg
	if req.Name != "" {
		cfg.Name = req.Name
	}
	if req.Description != "" {
		cfg.Description = req.Description
	}
	if req.LMStudioURL != "" {
		cfg.LMStudioURL = req.LMStudioURL
	}
	if req.IsActive != nil {
		cfg.IsActive = *req.IsActive
	}
	updated := *cfg
	r.mu.Unlock()

	if updated.LMStudioURL != previous.LMStudioURL || updated.IsActive != previous.IsActive {
		r.stopTracker(ctx, id)
		if updated.IsActive {
			r.startTracker(ctx, updated)
		}
	}
	return updated, nil
}

// Delete removes a configuration and closes its tracker.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if id == model.DefaultChatbotID {
		return ErrDefaultUndeletable
	}

	r.mu.Lock()
	if _, ok := r.configs[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("chatbot %s: %w", id, ErrChatbotNotFound)
	}
	delete(r.configs, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.stopTracker(ctx, id)
	return nil
}

// Tracker returns the tracker of a chatbot.
func (r *Registry) Tracker(id string) (*tracker.Tracker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.configs[id]; !ok {
		return nil, fmt.Errorf("chatbot %s: %w", id, ErrChatbotNotFound)
	}
	t, ok := r.trackers[id]
	if !ok {
		return nil, fmt.Errorf("chatbot %s: %w", id, ErrNoActiveTracker)
	}
	return t, nil
}

// Active returns the first chatbot, in creation order, that has a tracker.
func (r *Registry) Active() (string, *tracker.Tracker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if t, ok := r.trackers[id]; ok {
			return id, t, nil
		}
	}
	return "", nil, ErrNoActiveTracker
}

// Touch records activity for a chatbot.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg, ok := r.configs[id]; ok {
		now := time.Now().UTC()
		cfg.LastSeen = &now
	}
}

// Counts returns the number of configurations and of running trackers.
func (r *Registry) Counts() (configs, trackers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs), len(r.trackers)
}

// Close closes every tracker.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	trackers := r.trackers
	r.trackers = make(map[string]*tracker.Tracker)
	r.mu.Unlock()

	for id, t := range trackers {
		r.closeTracker(ctx, id, t)
	}
}
