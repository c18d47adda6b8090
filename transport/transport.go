// Package transport defines the broker abstraction used by crmbus services.
// Each broker implementation (rabbitmq, kafka, nats, aws, ...) lives in its own
// sub-package and registers a Builder with the transport registry.
//
// A Transport carries two delivery shapes over one broker connection:
// point-to-point work queues for RPC requests and replies, and broadcast
// topics for domain events where every named consumption point receives its
// own copy.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport bundles the publishers and subscribers produced by a Builder.
type Transport struct {
	// Publisher sends to point-to-point work queues.
	Publisher message.Publisher
	// Subscriber consumes a work queue. Consumers of the same queue compete.
	Subscriber message.Subscriber
	// Replies consumes a per-instance reply queue. Falls back to Subscriber when nil.
	Replies message.Subscriber
	// ReplySender publishes to reply queues. Falls back to Publisher when nil.
	ReplySender message.Publisher

	// Broadcast publishes domain events. Falls back to Publisher when nil.
	Broadcast message.Publisher
	// BroadcastSubscriber returns a subscriber bound to the named consumption
	// point. Replicas sharing a group compete; distinct groups each get a copy.
	BroadcastSubscriber func(group string) (message.Subscriber, error)

	// Probe reports broker connectivity when the backend exposes it.
	Probe ConnectionProbe
}

// ConnectionProbe is implemented by connections that can report liveness.
type ConnectionProbe interface {
	IsConnected() bool
}

// ReplySubscriber returns the subscriber used for RPC replies.
func (t Transport) ReplySubscriber() message.Subscriber {
	if t.Replies != nil {
		return t.Replies
	}
	return t.Subscriber
}

// ReplyPublisher returns the publisher used to answer RPC requests.
func (t Transport) ReplyPublisher() message.Publisher {
	if t.ReplySender != nil {
		return t.ReplySender
	}
	return t.Publisher
}

// BroadcastPublisher returns the publisher used for domain events.
func (t Transport) BroadcastPublisher() message.Publisher {
	if t.Broadcast != nil {
		return t.Broadcast
	}
	return t.Publisher
}

// SubscriberForGroup returns a broadcast subscriber for group. Transports that
// do not distinguish consumption points hand back their work-queue subscriber.
func (t Transport) SubscriberForGroup(group string) (message.Subscriber, error) {
	if t.BroadcastSubscriber != nil {
		return t.BroadcastSubscriber(group)
	}
	if t.Subscriber == nil {
		return nil, errors.New("transport: no subscriber available")
	}
	return t.Subscriber, nil
}

// Close releases every distinct publisher and subscriber once.
func (t Transport) Close() error {
	seen := make(map[any]struct{})
	var errs []error
	closeOnce := func(c interface{ Close() error }) {
		if c == nil {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.Publisher != nil {
		closeOnce(t.Publisher)
	}
	if t.ReplySender != nil {
		closeOnce(t.ReplySender)
	}
	if t.Broadcast != nil {
		closeOnce(t.Broadcast)
	}
	if t.Subscriber != nil {
		closeOnce(t.Subscriber)
	}
	if t.Replies != nil {
		closeOnce(t.Replies)
	}
	return errors.Join(errs...)
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// Transports read only the keys relevant to them.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string
	// GetConsumerGroup names the competing-consumer group of this service.
	GetConsumerGroup() string

	// Kafka
	GetKafkaBrokers() []string

	// RabbitMQ
	GetBrokerURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
