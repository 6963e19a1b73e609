package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/otelhelper"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type WatermillOption func(*WatermillEventBus)

func WithLogger(logger *slog.Logger) WatermillOption {
	return func(eb *WatermillEventBus) {
		eb.logger = logger.With("module", "watermill_event_bus")
	}
}

func WithTracer(tracer trace.Tracer) WatermillOption {
	return func(eb *WatermillEventBus) {
		eb.tracer = tracer
	}
}

// WatermillEventBus carries review events over any watermill pub/sub. The trace context of
// the publisher travels in the message metadata next to the event key and type.
type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	logger        *slog.Logger
	tracer        trace.Tracer
	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, opts ...WatermillOption) EventBus {
	eb := &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		logger:        slog.New(slog.DiscardHandler),
		tracer:        otel.Tracer("agent-store-review/eventbus"),
		subscriptions: make(map[events.EventType]EventHandler),
	}

	for _, opt := range opts {
		opt(eb)
	}

	return eb
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)

	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Metadata))

	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

// Subscribe starts delivering events to the registered handlers. Events without a handler
// and events that cannot be decoded are acked; a handler error nacks the message so the
// transport redelivers it.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			if eb.deliver(ctx, msg) {
				msg.Ack()
			} else {
				msg.Nack()
			}
		}
	}()

	return nil
}

func (eb *WatermillEventBus) deliver(ctx context.Context, msg *message.Message) bool {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	eb.mu.RLock()
	handler, exists := eb.subscriptions[eventType]
	eb.mu.RUnlock()

	if !exists {
		return true
	}

	msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))

	handlerCtx, span := otelhelper.StartSpan(msgCtx, eb.tracer, "review.eventbus handle",
		attribute.String("event.type", string(eventType)),
		attribute.String("event.key", msg.Metadata.Get(events.EventMetadataKey)),
	)
	defer span.End()

	event, err := DecodeEvent(eventType, msg.Payload)
	if err != nil {
		eb.logger.ErrorContext(msgCtx, "Dropping undecodable event", "event_type", eventType, "message_id", msg.UUID, "error", err)
		otelhelper.SetError(span, err)

		return true
	}

	if err := handler(handlerCtx, event); err != nil {
		eb.logger.WarnContext(msgCtx, "Event handler failed", "event_type", eventType, "message_id", msg.UUID, "error", err)
		otelhelper.SetError(span, err)

		return false
	}

	return true
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
