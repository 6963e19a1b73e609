package kafka

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/eventbus"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaTc "github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.opentelemetry.io/otel"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

// fakeReader serves queued messages, then blocks until the context is done.
type fakeReader struct {
	mu        sync.Mutex
	messages  []kafkago.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()

	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()

		return msg, nil
	}

	r.mu.Unlock()
	<-ctx.Done()

	return kafkago.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}

	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]int64(nil), r.committed...)
}

type fakeWriter struct {
	messages []kafkago.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.messages = append(w.messages, msgs...)

	return nil
}

func encode(t *testing.T, offset int64, event eventbus.Event) kafkago.Message {
	t.Helper()

	msg, err := encodeMessage(context.Background(), "sub-1", event)
	require.NoError(t, err)

	msg.Offset = offset
	msg.Topic = events.Topic

	return msg
}

func TestNewEventBus(t *testing.T) {
	tests := []struct {
		name        string
		brokers     []string
		expectError bool
	}{
		{
			name:    "valid brokers",
			brokers: []string{"localhost:9092"},
		},
		{
			name:        "no brokers",
			expectError: true,
		},
		{
			name:        "empty broker entries",
			brokers:     []string{"", ""},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus, err := NewEventBus(logger, Config{Brokers: tt.brokers})

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, bus)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, DefaultGroupID, bus.(*kafkaEventBus).reader.Config().GroupID)
			assert.NoError(t, bus.Close())
		})
	}
}

func TestKafkaEventBus_GenerateID(t *testing.T) {
	bus, err := NewEventBus(logger, Config{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)

	defer func() { assert.NoError(t, bus.Close()) }()

	id1 := bus.GenerateID()
	id2 := bus.GenerateID()

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
}

func TestPublishEvent_Headers(t *testing.T) {
	writer := &fakeWriter{}
	event := events.RetryStageSignal{
		BaseEvent: events.NewBaseEvent(events.RetryStageSignalEvent, "sub-1"),
		Stage:     models.StageSecurity,
		Reason:    "flaky sandbox",
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, publishEvent(ctx, logger, writer, "sub-1", event))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "sub-1", string(msg.Key))
	assert.Contains(t, string(msg.Value), `"stage":"security"`)

	headers := make(map[string]string)
	for _, header := range msg.Headers {
		headers[header.Key] = string(header.Value)
	}

	assert.Equal(t, "sub-1", headers[events.EventMetadataKey])
	assert.Equal(t, string(events.RetryStageSignalEvent), headers[events.EventTypeMetadataKey])
}

func TestConsumeEvents_DispatchesAndCommits(t *testing.T) {
	reader := &fakeReader{}
	reader.messages = []kafkago.Message{
		encode(t, 1, events.HumanDecisionSignal{
			BaseEvent: events.NewBaseEvent(events.HumanDecisionSignalEvent, "sub-1"),
			Decision:  models.HumanDecisionApproved,
		}),
		encode(t, 2, events.StageStarted{BaseEvent: events.NewBaseEvent(events.StageStartedEvent, "sub-1")}),
		{Offset: 3, Headers: []kafkago.Header{{Key: events.EventTypeMetadataKey, Value: []byte(events.HumanDecisionSignalEvent)}}, Value: []byte("{not json")},
		encode(t, 4, events.HumanDecisionSignal{
			BaseEvent: events.NewBaseEvent(events.HumanDecisionSignalEvent, "sub-2"),
			Decision:  models.HumanDecisionRejected,
		}),
	}

	var (
		mu        sync.Mutex
		decisions []models.HumanDecision
	)

	handlers := map[events.EventType]eventbus.EventHandler{
		events.HumanDecisionSignalEvent: func(_ context.Context, event any) error {
			signal := event.(*events.HumanDecisionSignal)

			mu.Lock()
			defer mu.Unlock()

			decisions = append(decisions, signal.Decision)

			if signal.SubmissionID == "sub-2" {
				return errors.New("pipeline not loaded")
			}

			return nil
		},
	}

	lookup := func(eventType events.EventType) (eventbus.EventHandler, bool) {
		handler, ok := handlers[eventType]

		return handler, ok
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		consumeEvents(ctx, logger, reader, otel.Tracer("test"), lookup)
	}()

	require.Eventually(t, func() bool {
		return len(reader.commits()) == 4
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}

	assert.Equal(t, []int64{1, 2, 3, 4}, reader.commits())

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []models.HumanDecision{models.HumanDecisionApproved, models.HumanDecisionRejected}, decisions)
}

func TestKafkaEventBus_PublishAndSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Kafka container test in short mode")
	}

	ctx := context.Background()

	container, err := kafkaTc.Run(ctx, "confluentinc/confluent-local:7.7.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_CREATE_TOPICS": "true",
	}))
	require.NoError(t, err)

	defer func() { _ = testcontainers.TerminateContainer(container) }()

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	createTopic(t, brokers[0])

	bus, err := NewEventBus(logger, Config{Brokers: brokers, GroupID: "cg-test"})
	require.NoError(t, err)

	defer func() { assert.NoError(t, bus.Close()) }()

	received := make(chan *events.UpdateJudgeConfigSignal, 1)

	require.NoError(t, bus.Handle(events.UpdateJudgeConfigSignalEvent, func(_ context.Context, event any) error {
		received <- event.(*events.UpdateJudgeConfigSignal)

		return nil
	}))

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	require.NoError(t, bus.Subscribe(subCtx))

	sent := events.UpdateJudgeConfigSignal{
		BaseEvent: events.NewBaseEvent(events.UpdateJudgeConfigSignalEvent, "sub-1"),
		Config:    models.JudgeLLMConfig{Enabled: true, Provider: "anthropic", Model: "claude"},
	}

	require.NoError(t, bus.Publish(ctx, "sub-1", sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "claude", got.Config.Model)
	case <-time.After(30 * time.Second):
		t.Fatal("did not receive event within timeout")
	}
}

func createTopic(t *testing.T, broker string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)

	defer func() { _ = controllerConn.Close() }()

	require.NoError(t, controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             events.Topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}
