// Package nats provides a NATS Core transport.
//
// Request subjects are consumed through a queue group named after the
// service, so one replica answers each call. Each event subscriber group is a
// queue group of its own.
package nats

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/northwind-crm/crmbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// ReconnectWait is the pause between reconnect attempts.
var ReconnectWait = time.Second

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}
	options := connectionOptions(cfg.GetConsumerGroup())
	coreOnly := nats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   coreOnly,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	newSubscriber := func(queueGroup string) (message.Subscriber, error) {
		return SubscriberFactory(
			nats.SubscriberConfig{
				URL:              url,
				QueueGroupPrefix: queueGroup,
				NatsOptions:      options,
				Unmarshaler:      marshaler,
				JetStream:        coreOnly,
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

func connectionOptions(name string) []nc.Option {
	options := []nc.Option{
		nc.RetryOnFailedConnect(true),
		nc.MaxReconnects(-1),
		nc.ReconnectWait(ReconnectWait),
	}
	if name != "" {
		options = append(options, nc.Name(name))
	}
	return options
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
