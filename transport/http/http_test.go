package http

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
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
	assert.Equal(t, "http", caps.Name)
	assert.False(t, caps.SupportsRequestReply())
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	originalPubFactory := PublisherFactory
	originalSubFactory := SubscriberFactory
	defer func() {
		PublisherFactory = originalPubFactory
		SubscriberFactory = originalSubFactory
	}()

	var publisherCfg watermillhttp.PublisherConfig
	PublisherFactory = func(cfg watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		publisherCfg = cfg
		return &transporttest.Publisher{}, nil
	}
	SubscriberFactory = func(addr string, cfg watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, ":8090", addr)
		return &transporttest.Subscriber{}, nil
	}

	cfg := &transporttest.Config{HTTPServerAddress: ":8090", HTTPPublisherURL: "http://lead-service:8090/"}
	tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)

	req, err := publisherCfg.MarshalMessageFunc("lead_queue", message.NewMessage("1", []byte(`{"pattern":"lead.create"}`)))
	require.NoError(t, err)
	assert.Equal(t, "http://lead-service:8090/lead_queue", req.URL.String())
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pattern":"lead.create"}`, string(body))
}

func TestBuild_Errors(t *testing.T) {
	originalPubFactory := PublisherFactory
	originalSubFactory := SubscriberFactory
	defer func() {
		PublisherFactory = originalPubFactory
		SubscriberFactory = originalSubFactory
	}()

	PublisherFactory = func(cfg watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return nil, errors.New("publisher error")
	}
	_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "publisher error")

	PublisherFactory = func(cfg watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return &transporttest.Publisher{}, nil
	}
	SubscriberFactory = func(addr string, cfg watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("subscriber error")
	}
	_, err = Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "subscriber error")
}
