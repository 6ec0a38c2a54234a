package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/agentwatch/internal/model"
	"github.com/capitalize-ai/agentwatch/pkg/metrics"
)

const (
	// StreamName is the name of the events stream.
	StreamName = "AGENTWATCH"

	// SubjectPrefix is the prefix for all event subjects.
	SubjectPrefix = "agentwatch"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the events stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Tracked chat interaction events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// subjectToken makes an id safe to use as a single subject token.
func subjectToken(id string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(id)
}

// EventSubject returns the subject for an event.
func EventSubject(sessionID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, subjectToken(sessionID), eventType)
}

// SessionFilter returns the filter subject for all events of a session.
func SessionFilter(sessionID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, subjectToken(sessionID))
}

// PublishEvent publishes an event to JetStream and returns its stream sequence.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.Event) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, EventSubject(event.SessionID, event.Type), data,
		jetstream.WithMsgID(event.ID),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// Publish implements Publisher.
func (m *StreamManager) Publish(ctx context.Context, event *model.Event) error {
	_, err := m.PublishEvent(ctx, event)
	return err
}

// Replay is one page of events read back from the stream.
type Replay struct {
	Events       []*model.Event
	LastSequence uint64
	HasMore      bool
}

// ReplayEvents reads up to limit events after a stream sequence. An empty
// sessionID reads every session.
func (m *StreamManager) ReplayEvents(ctx context.Context, sessionID string, afterSequence uint64, limit int) (*Replay, error) {
	filter := SubjectPrefix + ".>"
	if sessionID != "" {
		filter = SessionFilter(sessionID)
	}

	consumerConfig := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{filter},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := m.client.JetStream().OrderedConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	replay := &Replay{LastSequence: afterSequence}
	for msg := range batch.Messages() {
		meta, err := msg.Metadata()
		if err == nil {
			replay.LastSequence = meta.Sequence.Stream
		}

		var event model.Event
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			continue
		}
		replay.Events = append(replay.Events, &event)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("batch error: %w", err)
	}

	replay.HasMore = len(replay.Events) == limit
	return replay, nil
}

// CollectStats updates the stream gauges.
func (m *StreamManager) CollectStats(ctx context.Context) error {
	stream, err := m.client.JetStream().Stream(ctx, StreamName)
	if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	metrics.NATSStreamMessages.WithLabelValues(StreamName).Set(float64(info.State.Msgs))
	metrics.NATSStreamBytes.WithLabelValues(StreamName).Set(float64(info.State.Bytes))
	return nil
}
