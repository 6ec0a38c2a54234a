package nats

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agentwatch/internal/model"
	"github.com/capitalize-ai/agentwatch/internal/storage"
	"github.com/capitalize-ai/agentwatch/pkg/logger"
	"github.com/capitalize-ai/agentwatch/pkg/metrics"
)

// Publisher receives every event accepted by a MirrorStorage.
type Publisher interface {
	Publish(ctx context.Context, event *model.Event) error
}

// MirrorStorage is a storage.Storage that forwards accepted events to
// publishers after the wrapped backend stored them. Publish failures are
// logged and never fail the write.
type MirrorStorage struct {
	storage.Storage
	publishers []Publisher
	logger     *logger.Logger
}

var _ storage.Storage = (*MirrorStorage)(nil)

// NewMirrorStorage wraps backend.
func NewMirrorStorage(backend storage.Storage, log *logger.Logger, publishers ...Publisher) *MirrorStorage {
	if log == nil {
		log = logger.NewNop()
	}
	return &MirrorStorage{
		Storage:    backend,
		publishers: publishers,
		logger:     log.Named("mirror"),
	}
}

// StoreEvent stores event and publishes its sanitized form.
func (m *MirrorStorage) StoreEvent(ctx context.Context, event *model.Event) error {
	if err := m.Storage.StoreEvent(ctx, event); err != nil {
		return err
	}
	m.publish(ctx, event)
	return nil
}

// StoreEvents stores events and publishes those the backend accepted.
func (m *MirrorStorage) StoreEvents(ctx context.Context, events []*model.Event) error {
	err := m.Storage.StoreEvents(ctx, events)
	accepted := events
	if err != nil {
		var batchErr *storage.BatchError
		if !errors.As(err, &batchErr) {
			return err
		}
		accepted = events[:batchErr.Stored]
	}
	for _, e := range accepted {
		m.publish(ctx, e)
	}
	return err
}

func (m *MirrorStorage) publish(ctx context.Context, event *model.Event) {
	clean, err := storage.Prepare(event)
	if err != nil {
		return
	}
	for _, p := range m.publishers {
		if err := p.Publish(ctx, clean); err != nil {
			metrics.NATSPublishedTotal.WithLabelValues("error").Inc()
			m.logger.Warn("failed to publish event",
				zap.String("event_id", clean.ID),
				zap.String("session_id", clean.SessionID),
				zap.Error(err),
			)
			continue
		}
		metrics.NATSPublishedTotal.WithLabelValues("ok").Inc()
	}
}
