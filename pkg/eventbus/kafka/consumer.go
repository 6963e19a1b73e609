package kafka

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/eventbus"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/otelhelper"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

type handlerLookup func(eventType events.EventType) (eventbus.EventHandler, bool)

// consumeEvents dispatches messages until ctx is done. Every fetched message is committed
// once handled, including undecodable ones and those whose handler failed.
func consumeEvents(
	ctx context.Context,
	logger *slog.Logger,
	reader messageReader,
	tracer trace.Tracer,
	lookup handlerLookup,
) {
	for {
		message, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.InfoContext(ctx, "Stopping consumer", "cause", err)

				return
			}

			logger.ErrorContext(ctx, "Failed to fetch message", "error", err)

			continue
		}

		dispatch(ctx, logger, tracer, lookup, message)

		if err := reader.CommitMessages(ctx, message); err != nil {
			logger.ErrorContext(ctx, "Failed to commit message", "error", err, "offset", message.Offset)
		}
	}
}

func dispatch(ctx context.Context, logger *slog.Logger, tracer trace.Tracer, lookup handlerLookup, message kafkago.Message) {
	carrier := propagation.MapCarrier{}

	var eventType events.EventType

	for _, header := range message.Headers {
		if header.Key == events.EventTypeMetadataKey {
			eventType = events.EventType(header.Value)

			continue
		}

		carrier[header.Key] = string(header.Value)
	}

	msgCtx := otel.GetTextMapPropagator().Extract(ctx, carrier)

	traceCtx, span := otelhelper.StartSpan(msgCtx, tracer, "review.consumer consume",
		attribute.String("kafka.key", string(message.Key)),
		attribute.String("kafka.topic", message.Topic),
		attribute.String("event.type", string(eventType)),
	)
	defer span.End()

	handler, exists := lookup(eventType)
	if !exists {
		logger.DebugContext(msgCtx, "No handler for event type", "event_type", eventType)

		return
	}

	event, err := eventbus.DecodeEvent(eventType, message.Value)
	if err != nil {
		logger.ErrorContext(msgCtx, "Failed to decode event", "error", err, "event_type", eventType)
		otelhelper.SetError(span, err)

		return
	}

	if err := handler(traceCtx, event); err != nil {
		logger.ErrorContext(msgCtx, "Failed to handle event", "error", err, "event_type", eventType)
		otelhelper.SetError(span, err)

		return
	}

	span.AddEvent("event_handled")
	logger.DebugContext(msgCtx, "Handled event", "event_type", eventType)
}
