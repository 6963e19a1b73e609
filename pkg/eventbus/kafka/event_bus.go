// Package kafka provides an event bus that talks to Apache Kafka through kafka-go,
// without the watermill router.
package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/eventbus"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const DefaultGroupID = "cg-agent-store-review"

type Config struct {
	Brokers []string
	GroupID string
	// Tracer defaults to the global tracer provider.
	Tracer trace.Tracer
}

type kafkaEventBus struct {
	logger *slog.Logger
	writer *kafkago.Writer
	reader *kafkago.Reader
	tracer trace.Tracer

	mu       sync.RWMutex
	handlers map[events.EventType]eventbus.EventHandler
}

func NewEventBus(logger *slog.Logger, config Config) (eventbus.EventBus, error) {
	brokers := make([]string, 0, len(config.Brokers))

	for _, broker := range config.Brokers {
		if broker != "" {
			brokers = append(brokers, broker)
		}
	}

	if len(brokers) == 0 {
		return nil, errors.New("no Kafka brokers configured")
	}

	groupID := config.GroupID
	if groupID == "" {
		groupID = DefaultGroupID
	}

	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.Tracer("agent-store-review/kafka")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  events.Topic,
		Balancer:               &kafkago.Hash{},
		AllowAutoTopicCreation: true,
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: brokers,
		Topic:   events.Topic,
		GroupID: groupID,
	})

	return &kafkaEventBus{
		logger:   logger.With("module", "kafka_event_bus"),
		writer:   writer,
		reader:   reader,
		tracer:   tracer,
		handlers: make(map[events.EventType]eventbus.EventHandler),
	}, nil
}

func (k *kafkaEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	return publishEvent(ctx, k.logger, k.writer, key, event)
}

func (k *kafkaEventBus) Subscribe(ctx context.Context) error {
	k.logger.InfoContext(ctx, "Subscribing to events", "topic", events.Topic)

	go consumeEvents(ctx, k.logger, k.reader, k.tracer, k.handler)

	return nil
}

func (k *kafkaEventBus) Close() error {
	k.logger.Info("Closing Kafka event bus")

	if err := k.writer.Close(); err != nil {
		k.logger.Error("Failed to close Kafka writer", "error", err)

		return err
	}

	if err := k.reader.Close(); err != nil {
		k.logger.Error("Failed to close Kafka reader", "error", err)

		return err
	}

	return nil
}

func (k *kafkaEventBus) GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		k.logger.Error("Failed to generate V7 uuid", "error", err)

		return uuid.NewString()
	}

	return id.String()
}

func (k *kafkaEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	k.logger.Debug("Registering handler", "event_type", string(eventType))

	k.mu.Lock()
	defer k.mu.Unlock()

	k.handlers[eventType] = handler

	return nil
}

func (k *kafkaEventBus) handler(eventType events.EventType) (eventbus.EventHandler, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	handler, ok := k.handlers[eventType]

	return handler, ok
}
