package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/eventbus"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// messageWriter is the part of *kafkago.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

func publishEvent(
	ctx context.Context,
	logger *slog.Logger,
	writer messageWriter,
	key string,
	event eventbus.Event,
) error {
	logger.DebugContext(ctx, "Publishing event", "key", key, "event_type", event.GetType())

	msg, err := encodeMessage(ctx, key, event)
	if err != nil {
		return err
	}

	// Pipelines publish on their way out, after their context is cancelled.
	return writer.WriteMessages(context.WithoutCancel(ctx), msg)
}

func encodeMessage(ctx context.Context, key string, event eventbus.Event) (kafkago.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, err
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]kafkago.Header, 0, len(carrier)+2)

	for k, v := range carrier {
		headers = append(headers, kafkago.Header{
			Key:   k,
			Value: []byte(v),
		})
	}

	headers = append(headers, kafkago.Header{
		Key:   events.EventMetadataKey,
		Value: []byte(key),
	}, kafkago.Header{
		Key:   events.EventTypeMetadataKey,
		Value: []byte(event.GetType()),
	})

	return kafkago.Message{
		Key:     []byte(key),
		Value:   payload,
		Headers: headers,
	}, nil
}
