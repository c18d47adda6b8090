// Package rabbitmq provides the RabbitMQ/AMQP transport, the default broker of
// crmbus deployments.
//
// RPC requests go to durable queues bound through the default exchange, so
// replicas of one service compete for them. Replies go to a non-durable,
// auto-deleted queue owned by a single client instance. Domain events use one
// durable fanout exchange per event type with one durable queue per
// subscriber group. Correlation id and reply queue are mirrored into the AMQP
// CorrelationId and ReplyTo properties for interoperability with non-Go peers.
package rabbitmq

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/northwind-crm/crmbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// Metadata keys mirrored into AMQP message properties.
const (
	CorrelationIDHeader = "correlation_id"
	ReplyToHeader       = "reply_to"
)

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build creates a RabbitMQ transport sharing one reconnecting connection.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetBrokerURL()

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	queueConfig := withCorrelationProperties(amqp.NewDurableQueueConfig(url))

	publisher, err := PublisherFactory(queueConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(queueConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	replies, err := SubscriberFactory(ReplyQueueConfig(url), logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	replySender, err := PublisherFactory(ReplyQueueConfig(url), logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	broadcast, err := PublisherFactory(BroadcastConfig(url, ""), logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:   publisher,
		Subscriber:  subscriber,
		Replies:     replies,
		ReplySender: replySender,
		Broadcast:   broadcast,
		BroadcastSubscriber: func(group string) (message.Subscriber, error) {
			return SubscriberFactory(BroadcastConfig(url, group), logger, conn)
		},
		Probe: conn,
	}, nil
}

// ReplyQueueConfig returns the configuration of a private reply queue: not
// durable and deleted by the broker once its consumer goes away. Servers
// publish replies with the same configuration so the queue declarations agree.
func ReplyQueueConfig(url string) amqp.Config {
	cfg := withCorrelationProperties(amqp.NewNonDurableQueueConfig(url))
	cfg.Queue.AutoDelete = true
	return cfg
}

// BroadcastConfig returns the fanout configuration for domain events. The
// queue of a subscriber group is named "<event type>_<group>".
func BroadcastConfig(url, group string) amqp.Config {
	generateQueueName := amqp.GenerateQueueNameTopicName
	if group != "" {
		generateQueueName = amqp.GenerateQueueNameTopicNameWithSuffix(group)
	}
	return withCorrelationProperties(amqp.NewDurablePubSubConfig(url, generateQueueName))
}

func withCorrelationProperties(cfg amqp.Config) amqp.Config {
	cfg.Marshaler = amqp.DefaultMarshaler{
		PostprocessPublishing: CopyCorrelationProperties,
	}
	return cfg
}

// CopyCorrelationProperties fills the AMQP CorrelationId and ReplyTo
// properties from the message headers.
func CopyCorrelationProperties(p amqp091.Publishing) amqp091.Publishing {
	if v, ok := p.Headers[CorrelationIDHeader].(string); ok {
		p.CorrelationId = v
	}
	if v, ok := p.Headers[ReplyToHeader].(string); ok {
		p.ReplyTo = v
	}
	return p
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
