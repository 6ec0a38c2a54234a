// Package storage defines the event storage contract and the computation
// shared by every backend: sanitization, metric derivation, reports and
// conversation-log reconstruction.
package storage

import (
	"context"
	"time"

	"github.com/capitalize-ai/agentwatch/internal/model"
)

// Storage is implemented by every event backend.
//
// StoreEvent validates and sanitizes the event before persisting a copy of it;
// backends never retain the caller's pointer. Limit 0 means unlimited.
type Storage interface {
	Initialize(ctx context.Context) error
	Close() error
	TestConnection(ctx context.Context) bool

	StoreEvent(ctx context.Context, event *model.Event) error
	StoreEvents(ctx context.Context, events []*model.Event) error

	GetSessionEvents(ctx context.Context, sessionID string, limit, offset int) ([]*model.Event, error)
	GetUserEvents(ctx context.Context, userID string, limit, offset int) ([]*model.Event, error)
	QueryEvents(ctx context.Context, query model.MetricsQuery) ([]*model.Event, error)

	GetSessionMetrics(ctx context.Context, sessionID string) (*model.SessionMetrics, error)
	GetUserMetrics(ctx context.Context, userID string) (*model.UserMetrics, error)
	GetProviderMetrics(ctx context.Context, provider string, start, end *time.Time) (*model.ProviderMetrics, error)
	GenerateReport(ctx context.Context, query model.MetricsQuery) (*model.TrackingReport, error)

	GetConversationLog(ctx context.Context, sessionID string) (*model.ConversationLog, error)
	GetConversationLogs(ctx context.Context, limit, offset int) ([]model.ConversationSummary, error)

	DeleteSessionEvents(ctx context.Context, sessionID string) error
	DeleteUserEvents(ctx context.Context, userID string) error

	GetStats(ctx context.Context) (*model.StorageStats, error)
}

// Type selects a storage backend.
type Type string

const (
	TypeMemory Type = "memory"
)
