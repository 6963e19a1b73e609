// Package kafka provides the Kafka-backed watermill publisher and subscriber used by the
// review event bus.
package kafka

import (
	"errors"
	"slices"
	"strings"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
)

var ErrNoBrokers = errors.New("kafka brokers are not configured")

type Config struct {
	Brokers       []string
	ConsumerGroup string
	// FromNewest starts a new consumer group at the end of the topic instead of the beginning.
	FromNewest bool
}

func (c Config) brokers() []string {
	return slices.DeleteFunc(slices.Clone(c.Brokers), func(b string) bool {
		return strings.TrimSpace(b) == ""
	})
}

// PartitionKey routes every event of a submission to the same partition, so a consumer
// sees them in publish order.
func PartitionKey(_ string, msg *message.Message) (string, error) {
	if key := msg.Metadata.Get(events.EventMetadataKey); key != "" {
		return key, nil
	}

	return msg.UUID, nil
}

func CreateChannel(logger watermill.LoggerAdapter, cfg Config) (*kafka.Publisher, *kafka.Subscriber, error) {
	brokers := cfg.brokers()
	if len(brokers) == 0 {
		return nil, nil, ErrNoBrokers
	}

	marshaler := kafka.NewWithPartitioningMarshaler(PartitionKey)

	saramaSubscriberConfig := kafka.DefaultSaramaSubscriberConfig()
	saramaSubscriberConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	if cfg.FromNewest {
		saramaSubscriberConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           marshaler,
			OverwriteSaramaConfig: saramaSubscriberConfig,
			ConsumerGroup:         cfg.ConsumerGroup,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	saramaPublisherConfig := sarama.NewConfig()
	saramaPublisherConfig.Producer.Return.Successes = true
	saramaPublisherConfig.Producer.RequiredAcks = sarama.WaitForAll

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             marshaler,
			OverwriteSaramaConfig: saramaPublisherConfig,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		_ = subscriber.Close()

		return nil, nil, err
	}

	return publisher, subscriber, nil
}
