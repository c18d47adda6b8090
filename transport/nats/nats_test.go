package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northwind-crm/crmbus/transport"
	"github.com/northwind-crm/crmbus/transport/transporttest"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()

	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats", caps.Name)
	assert.False(t, caps.SupportsReliableDelivery())
	assert.Equal(t, transport.NATSCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	originalPubFactory := PublisherFactory
	originalSubFactory := SubscriberFactory
	defer func() {
		PublisherFactory = originalPubFactory
		SubscriberFactory = originalSubFactory
	}()

	PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		assert.Equal(t, "nats://localhost:4222", cfg.URL)
		assert.True(t, cfg.JetStream.Disabled)
		assert.Len(t, cfg.NatsOptions, 4)
		return &transporttest.Publisher{}, nil
	}
	SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.True(t, cfg.JetStream.Disabled)
		return &transporttest.Subscriber{Name: cfg.QueueGroupPrefix}, nil
	}

	cfg := &transporttest.Config{NATSURL: "nats://localhost:4222", ConsumerGroup: "deal"}
	tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)

	assert.Equal(t, "deal", tr.Subscriber.(*transporttest.Subscriber).Name)
	assert.Equal(t, "", tr.ReplySubscriber().(*transporttest.Subscriber).Name)

	sub, err := tr.SubscriberForGroup("analytics")
	require.NoError(t, err)
	assert.Equal(t, "analytics", sub.(*transporttest.Subscriber).Name)
}

func TestBuild_SubscriberError(t *testing.T) {
	originalPubFactory := PublisherFactory
	originalSubFactory := SubscriberFactory
	defer func() {
		PublisherFactory = originalPubFactory
		SubscriberFactory = originalSubFactory
	}()

	PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return &transporttest.Publisher{}, nil
	}
	SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("subscriber error")
	}

	_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "subscriber error")
}

func TestConnectionOptions(t *testing.T) {
	assert.Len(t, connectionOptions(""), 3)
	assert.Len(t, connectionOptions("deal"), 4)
}
