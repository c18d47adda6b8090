package runtime

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/northwind-crm/crmbus/internal/runtime/envelope"
	"github.com/northwind-crm/crmbus/internal/runtime/handlers"
	idspkg "github.com/northwind-crm/crmbus/internal/runtime/ids"
	loggingpkg "github.com/northwind-crm/crmbus/internal/runtime/logging"
	metadatapkg "github.com/northwind-crm/crmbus/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Service router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard middleware chain used by the Service constructor.
// The chain has no retry stage; failed events go back to the broker.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		PoisonQueueMiddleware(nil),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware adds Watermill router metrics and exposes /metrics.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}

			metricsBuilder := metrics.NewPrometheusMetricsBuilder(
				s.metricsRegisterer,
				metricsNamespace,
				s.Conf.PubSubSystem,
			)
			metricsBuilder.AddPrometheusRouterMetrics(s.router)

			if s.Conf.MetricsPort > 0 {
				s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", s.metricsHandler())
			}

			return metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.correlationIDMiddleware(), nil
		},
	}
}

// LogMessagesMiddleware logs the payload and metadata of handled messages at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return s.logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.tracerMiddleware(), nil
		},
	}
}

// PoisonQueueMiddleware publishes messages whose error matches filter to the
// configured poison queue and acknowledges them. The default filter matches
// undecodable events. Without a configured queue the middleware is skipped.
func PoisonQueueMiddleware(filter func(error) bool) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "poison_queue",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if s.Conf == nil || s.Conf.PoisonQueue == "" {
				return nil, nil
			}
			f := filter
			if f == nil {
				f = isUnprocessable
			}
			return s.poisonMiddlewareWithFilter(f)
		},
	}
}

// RecovererMiddleware converts panics into handler errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware attaches the supplied middleware to the router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.router.AddMiddleware(mw)
	return nil
}

func isUnprocessable(err error) bool {
	return errors.Is(err, handlers.ErrUnprocessable) || errors.Is(err, envelope.ErrMalformedEvent)
}

// correlationIDMiddleware injects a correlation ID into the message metadata when missing.
func (s *Service) correlationIDMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
				msg.Metadata.Set(metadatapkg.KeyCorrelationID, idspkg.CreateULID())
			}
			return h(msg)
		}
	}
}

// poisonMiddlewareWithFilter publishes poison messages based on the provided filter.
func (s *Service) poisonMiddlewareWithFilter(filter func(err error) bool) (message.HandlerMiddleware, error) {
	if s.Conf == nil {
		return nil, errors.New("service config is required for poison queue middleware")
	}
	if s.transport.Publisher == nil {
		return nil, errors.New("publisher is required for poison queue middleware")
	}

	return middleware.PoisonQueueWithFilter(
		s.transport.Publisher,
		s.Conf.PoisonQueue,
		filter,
	)
}

func (s *Service) logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

func (s *Service) tracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx, span := otel.Tracer(tracerName).Start(msg.Context(), "ProcessMessage")
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("message.uuid", msg.UUID),
				attribute.String("message.handler", message.HandlerNameFromCtx(msg.Context())),
				attribute.String("message.metadata", fmt.Sprintf("%v", msg.Metadata)),
			)
			return h(msg)
		}
	}
}
