package cmd

import (
	"fmt"
	"log/slog"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/channels/gochannel"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/channels/kafka"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/eventbus"
	kafkabus "github.com/Naoya-Yasuda/agent-store-sub000/pkg/eventbus/kafka"
	"github.com/ThreeDotsLabs/watermill"
)

const serviceName = "agent-store-review"

// NewEventBus creates the review event bus for provider: "gochannel" keeps events in
// process, "kafka" connects to brokers through watermill and "kafka-go" talks to them
// directly.
func NewEventBus(provider string, brokers []string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, eventbus.WithLogger(logger)), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, kafka.Config{
			Brokers:       brokers,
			ConsumerGroup: "cg-" + serviceName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, eventbus.WithLogger(logger)), nil
	case "kafka-go":
		return kafkabus.NewEventBus(logger, kafkabus.Config{
			Brokers: brokers,
			GroupID: "cg-" + serviceName,
		})
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
