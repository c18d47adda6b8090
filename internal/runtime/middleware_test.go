package runtime

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/northwind-crm/crmbus/internal/runtime/config"
	"github.com/northwind-crm/crmbus/internal/runtime/envelope"
	"github.com/northwind-crm/crmbus/internal/runtime/handlers"
	metadatapkg "github.com/northwind-crm/crmbus/internal/runtime/metadata"
	bustransport "github.com/northwind-crm/crmbus/transport"
	"github.com/northwind-crm/crmbus/transport/transporttest"
)

func newMiddlewareTestService(t *testing.T, conf *configpkg.Config) (*Service, *transporttest.Publisher) {
	t.Helper()
	router, err := message.NewRouter(message.RouterConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	if conf == nil {
		conf = &configpkg.Config{}
	}
	publisher := &transporttest.Publisher{}
	return &Service{
		Conf:      conf,
		Logger:    newTestLogger(),
		router:    router,
		transport: bustransport.Transport{Publisher: publisher, Subscriber: &transporttest.Subscriber{}},
	}, publisher
}

func TestCorrelationIDMiddleware(t *testing.T) {
	s, _ := newMiddlewareTestService(t, nil)

	var seen string
	handler := s.correlationIDMiddleware()(func(msg *message.Message) ([]*message.Message, error) {
		seen = msg.Metadata.Get(metadatapkg.KeyCorrelationID)
		return nil, nil
	})

	_, err := handler(message.NewMessage("1", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, seen, "a missing correlation id is filled in")

	msg := message.NewMessage("2", nil)
	msg.Metadata.Set(metadatapkg.KeyCorrelationID, "corr-7")
	_, err = handler(msg)
	require.NoError(t, err)
	assert.Equal(t, "corr-7", seen)
}

func TestTracerAndLogMiddlewaresPassThrough(t *testing.T) {
	s, _ := newMiddlewareTestService(t, nil)
	want := errors.New("handler failed")

	inner := func(msg *message.Message) ([]*message.Message, error) { return nil, want }
	handler := s.tracerMiddleware()(s.logMessagesMiddleware(s.Logger)(inner))

	_, err := handler(message.NewMessage("1", []byte(`{}`)))
	assert.ErrorIs(t, err, want)
}

func TestPoisonQueueMiddleware(t *testing.T) {
	t.Run("skipped without a queue", func(t *testing.T) {
		s, _ := newMiddlewareTestService(t, nil)
		mw, err := PoisonQueueMiddleware(nil).Builder(s)
		require.NoError(t, err)
		assert.Nil(t, mw)
	})

	t.Run("parks unprocessable messages", func(t *testing.T) {
		s, publisher := newMiddlewareTestService(t, &configpkg.Config{PoisonQueue: "crm.poison"})
		mw, err := PoisonQueueMiddleware(nil).Builder(s)
		require.NoError(t, err)
		require.NotNil(t, mw)

		poisoned := mw(func(*message.Message) ([]*message.Message, error) {
			return nil, fmt.Errorf("%w: bad payload", handlers.ErrUnprocessable)
		})
		_, err = poisoned(message.NewMessage("bad-1", []byte(`{{`)))
		require.NoError(t, err, "poisoned messages are acknowledged")
		require.Len(t, publisher.Messages("crm.poison"), 1)
		assert.Equal(t, "bad-1", publisher.Messages("crm.poison")[0].UUID)

		transient := mw(func(*message.Message) ([]*message.Message, error) {
			return nil, errors.New("database unavailable")
		})
		_, err = transient(message.NewMessage("ok-1", nil))
		assert.EqualError(t, err, "database unavailable")
		assert.Len(t, publisher.Messages("crm.poison"), 1)
	})

	t.Run("custom filter", func(t *testing.T) {
		s, publisher := newMiddlewareTestService(t, &configpkg.Config{PoisonQueue: "crm.poison"})
		mw, err := PoisonQueueMiddleware(func(error) bool { return true }).Builder(s)
		require.NoError(t, err)

		_, err = mw(func(*message.Message) ([]*message.Message, error) {
			return nil, errors.New("anything")
		})(message.NewMessage("x", nil))
		require.NoError(t, err)
		assert.Len(t, publisher.Messages("crm.poison"), 1)
	})
}

func TestIsUnprocessable(t *testing.T) {
	assert.True(t, isUnprocessable(fmt.Errorf("wrap: %w", handlers.ErrUnprocessable)))
	assert.True(t, isUnprocessable(fmt.Errorf("wrap: %w", envelope.ErrMalformedEvent)))
	assert.False(t, isUnprocessable(errors.New("timeout")))
	assert.False(t, isUnprocessable(nil))
}

func TestRegisterMiddleware(t *testing.T) {
	t.Run("requires router", func(t *testing.T) {
		s := &Service{}
		assert.Error(t, s.RegisterMiddleware(RecovererMiddleware()))
	})

	t.Run("requires middleware or builder", func(t *testing.T) {
		s, _ := newMiddlewareTestService(t, nil)
		assert.Error(t, s.RegisterMiddleware(MiddlewareRegistration{Name: "empty"}))
	})

	t.Run("builder error", func(t *testing.T) {
		s, _ := newMiddlewareTestService(t, nil)
		err := s.RegisterMiddleware(MiddlewareRegistration{
			Name:    "broken",
			Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, errors.New("boom") },
		})
		assert.EqualError(t, err, "boom")
	})

	t.Run("nil middleware from builder is skipped", func(t *testing.T) {
		s, _ := newMiddlewareTestService(t, nil)
		assert.NoError(t, s.RegisterMiddleware(MetricsMiddleware()))
		assert.NoError(t, s.RegisterMiddleware(PoisonQueueMiddleware(nil)))
	})

	t.Run("log messages needs a logger", func(t *testing.T) {
		s, _ := newMiddlewareTestService(t, nil)
		s.Logger = nil
		assert.Error(t, s.RegisterMiddleware(LogMessagesMiddleware(nil)))
		assert.NoError(t, s.RegisterMiddleware(LogMessagesMiddleware(newTestLogger())))
	})

	t.Run("default chain", func(t *testing.T) {
		s, _ := newMiddlewareTestService(t, nil)
		for _, reg := range DefaultMiddlewares() {
			assert.NoError(t, s.RegisterMiddleware(reg), reg.Name)
		}
	})
}

func TestConfiguredMiddlewaresWrapErrors(t *testing.T) {
	s, _ := newMiddlewareTestService(t, nil)
	err := s.registerConfiguredMiddlewares(ServiceDependencies{
		DisableDefaultMiddlewares: true,
		Middlewares: []MiddlewareRegistration{{
			Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, errors.New("boom") },
		}},
	})
	assert.EqualError(t, err, "failed to register middleware anonymous_middleware: boom")
}
