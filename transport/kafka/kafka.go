// Package kafka provides a Kafka transport.
//
// The service consumer group makes replicas compete for request topics.
// Reply topics are read without a consumer group, and every event subscriber
// group maps onto its own Kafka consumer group.
package kafka

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/northwind-crm/crmbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	newSubscriber := func(group string) (message.Subscriber, error) {
		return SubscriberFactory(
			kafka.SubscriberConfig{
				Brokers:       brokers,
				Unmarshaler:   kafka.DefaultMarshaler{},
				ConsumerGroup: group,
			},
			logger,
		)
	}

	subscriber, err := newSubscriber(cfg.GetConsumerGroup())
	if err != nil {
		return transport.Transport{}, err
	}

	replies, err := newSubscriber("")
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:           publisher,
		Subscriber:          subscriber,
		Replies:             replies,
		BroadcastSubscriber: newSubscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
