package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agentwatch/internal/model"
	"github.com/capitalize-ai/agentwatch/internal/storage"
	"github.com/capitalize-ai/agentwatch/pkg/logger"
	"github.com/capitalize-ai/agentwatch/pkg/metrics"
)

const (
	triggerSize   = "size"
	triggerTimer  = "timer"
	triggerClose  = "close"
	triggerManual = "manual"
)

// queue buffers events and writes them to storage in batches, either when
// size events are waiting or every interval.
type queue struct {
	store    storage.Storage
	logger   *logger.Logger
	size     int
	interval time.Duration

	mu     sync.Mutex
	events []*model.Event

	// flushMu keeps one batch write in flight so a failed batch is
	// re-queued ahead of anything queued after it.
	flushMu sync.Mutex

	// gate is held shared by every push and exclusively by stop, so the
	// final flush sees every event a push has accepted.
	gate   sync.RWMutex
	closed bool

	cancelLoop context.CancelFunc
	done       chan struct{}
}

func newQueue(store storage.Storage, log *logger.Logger, size int, interval time.Duration) *queue {
	return &queue{
		store:    store,
		logger:   log,
		size:     size,
		interval: interval,
	}
}

func (q *queue) batching() bool {
	return q.size > 1
}

// start runs the background flush loop. It is a no-op without batching.
func (q *queue) start(ctx context.Context) {
	if !q.batching() || q.interval <= 0 {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	q.cancelLoop = cancel
	q.done = make(chan struct{})
	go q.flushLoop(loopCtx)
}

func (q *queue) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	defer close(q.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.flush(ctx, triggerTimer); err != nil {
				q.logger.Warn("timed flush failed, events re-queued",
					zap.Int("queued", q.len()),
					zap.Error(err),
				)
			}
		}
	}
}

// push stores event, directly or through the batch. A size-triggered flush
// failure is returned to the caller. After stop it returns ErrClosed.
func (q *queue) push(ctx context.Context, event *model.Event) error {
	q.gate.RLock()
	defer q.gate.RUnlock()
	if q.closed {
		return ErrClosed
	}

	if !q.batching() {
		if err := q.store.StoreEvent(ctx, event); err != nil {
			return &StorageWriteError{Count: 1, Err: err}
		}
		return nil
	}

	q.mu.Lock()
	q.events = append(q.events, event)
	full := len(q.events) >= q.size
	metrics.TrackerQueueDepth.Set(float64(len(q.events)))
	q.mu.Unlock()

	if full {
		return q.flush(ctx, triggerSize)
	}
	return nil
}

// flush writes everything queued as one batch. The queue is cleared before
// the write; on failure the unwritten events go back to the front.
func (q *queue) flush(ctx context.Context, trigger string) error {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	if len(q.events) == 0 {
		q.mu.Unlock()
		return nil
	}
	batch := q.events
	q.events = nil
	q.mu.Unlock()

	ctx, span := otel.Tracer("agentwatch/tracker").Start(ctx, "tracker.flush")
	span.SetAttributes(
		attribute.String("flush.trigger", trigger),
		attribute.Int("flush.batch_size", len(batch)),
	)
	defer span.End()

	start := time.Now()
	err := q.store.StoreEvents(ctx, batch)
	metrics.RecordFlush(trigger, time.Since(start).Seconds(), err)

	if err != nil {
		stored := 0
		var batchErr *storage.BatchError
		if errors.As(err, &batchErr) {
			stored = batchErr.Stored
		}
		remaining := batch[stored:]

		q.mu.Lock()
		q.events = append(remaining, q.events...)
		metrics.TrackerQueueDepth.Set(float64(len(q.events)))
		q.mu.Unlock()

		span.RecordError(err)
		return &StorageWriteError{Count: len(remaining), Err: err}
	}

	q.mu.Lock()
	metrics.TrackerQueueDepth.Set(float64(len(q.events)))
	q.mu.Unlock()

	q.logger.Debug("batch flushed",
		zap.String("trigger", trigger),
		zap.Int("batch_size", len(batch)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// stop rejects further pushes, waits for those in flight, ends the flush
// loop and performs a final flush.
func (q *queue) stop(ctx context.Context) error {
	q.gate.Lock()
	q.closed = true
	q.gate.Unlock()

	if q.cancelLoop != nil {
		q.cancelLoop()
		select {
		case <-q.done:
		case <-ctx.Done():
			q.logger.Warn("timed out waiting for flush loop")
		}
	}
	return q.flush(ctx, triggerClose)
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
