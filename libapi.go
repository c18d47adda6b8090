package crmbus

import (
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/northwind-crm/crmbus/internal/runtime"
	configpkg "github.com/northwind-crm/crmbus/internal/runtime/config"
	"github.com/northwind-crm/crmbus/internal/runtime/dedupe"
	"github.com/northwind-crm/crmbus/internal/runtime/envelope"
	errspkg "github.com/northwind-crm/crmbus/internal/runtime/errors"
	handlerpkg "github.com/northwind-crm/crmbus/internal/runtime/handlers"
	idspkg "github.com/northwind-crm/crmbus/internal/runtime/ids"
	jsoncodec "github.com/northwind-crm/crmbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/northwind-crm/crmbus/internal/runtime/logging"
	metadatapkg "github.com/northwind-crm/crmbus/internal/runtime/metadata"
	"github.com/northwind-crm/crmbus/internal/runtime/outbox"
	"github.com/northwind-crm/crmbus/internal/runtime/patterns"
	transportpkg "github.com/northwind-crm/crmbus/internal/runtime/transport"
	bustransport "github.com/northwind-crm/crmbus/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	TransportFactory    = transportpkg.Factory
	Transport           = bustransport.Transport

	Destination = patterns.Destination
	Pattern     = patterns.Pattern
	Registry    = patterns.Registry

	Client       = runtimepkg.Client
	ClientConfig = runtimepkg.ClientConfig
	Server       = runtimepkg.Server
	ServerConfig = runtimepkg.ServerConfig

	HandlerRegistration                                             = runtimepkg.HandlerRegistration
	HandlerFunc                                                     = handlerpkg.Func
	Request                                                         = handlerpkg.Request
	JSONRequest[T any]                                              = handlerpkg.JSONRequest[T]
	JSONHandler[Req any, Resp any]                                  = handlerpkg.JSONHandler[Req, Resp]
	JSONHandlerRegistration[Req any, Resp any]                      = runtimepkg.JSONHandlerRegistration[Req, Resp]
	ProtoRequest[T proto.Message]                                   = handlerpkg.ProtoRequest[T]
	ProtoHandler[Req proto.Message, Resp proto.Message]             = handlerpkg.ProtoHandler[Req, Resp]
	ProtoHandlerRegistration[Req proto.Message, Resp proto.Message] = runtimepkg.ProtoHandlerRegistration[Req, Resp]
	MessageContextBase                                              = handlerpkg.MessageContextBase

	EventBus                 = runtimepkg.EventBus
	EventBusConfig           = runtimepkg.EventBusConfig
	EmitOption               = runtimepkg.EmitOption
	SubscriptionRegistration = runtimepkg.SubscriptionRegistration
	Event                    = handlerpkg.Event
	EventFunc                = handlerpkg.EventFunc
	JSONEvent[T any]         = handlerpkg.JSONEvent[T]
	JSONEventHandler[T any]  = handlerpkg.JSONEventHandler[T]
	EventEnvelope            = envelope.Event

	OutboxStore = outbox.Store
	DedupeStore = dedupe.Store

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	RPCError  = errspkg.Error
	ErrorKind = errspkg.Kind

	HandlerInfo     = runtimepkg.HandlerInfo
	HandlerStats    = runtimepkg.HandlerStats
	HandlerContext  = runtimepkg.HandlerContext
	HandlerHooks    = runtimepkg.HandlerHooks
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	TransportBuilder      = bustransport.Builder
	TransportConfig       = bustransport.Config
	TransportRegistry     = bustransport.Registry
	TransportCapabilities = bustransport.Capabilities
)

var (
	New            = runtimepkg.New
	NewService     = runtimepkg.NewService
	LoadConfig     = configpkg.Load
	ConfigFromEnv  = configpkg.FromEnv
	ValidateConfig = configpkg.ValidateConfig

	DefaultRegistry = patterns.Default
	NewRegistry     = patterns.NewRegistry
	CallInto        = runtimepkg.CallInto

	WithCorrelationID = runtimepkg.WithCorrelationID
	WithUserID        = runtimepkg.WithUserID

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewMemoryOutbox = outbox.NewMemoryStore
	NewMemoryDedupe = dedupe.NewMemoryStore

	ErrValidation    = errspkg.ErrValidation
	ErrNotFound      = errspkg.ErrNotFound
	ErrTimeout       = errspkg.ErrTimeout
	ErrTransport     = errspkg.ErrTransport
	ErrHandler       = errspkg.ErrHandler
	ErrUnauthorized  = errspkg.ErrUnauthorized
	ErrUnprocessable = handlerpkg.ErrUnprocessable

	ErrServiceRequired = errspkg.ErrServiceRequired
	ErrHandlerRequired = errspkg.ErrHandlerRequired
	ErrUnknownPattern  = errspkg.ErrUnknownPattern
	ErrServerStarted   = errspkg.ErrServerStarted
	ErrEventBusClosed  = errspkg.ErrEventBusClosed

	NewRPCError       = errspkg.New
	ValidationError   = errspkg.Validation
	NotFoundError     = errspkg.NotFound
	UnauthorizedError = errspkg.Unauthorized
	ErrorKindOf       = errspkg.KindOf

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode
	Decode    = jsoncodec.Decode

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewJSONServiceLogger = loggingpkg.NewJSONServiceLogger
	NewNopLogger         = loggingpkg.NewNopLogger

	NewMetadata = metadatapkg.New
	CreateULID  = idspkg.CreateULID

	GetCapabilities   = bustransport.GetCapabilities
	RegisterTransport = bustransport.Register
	BuildTransport    = bustransport.Build
)

// Error kinds carried by RPCError.
const (
	KindValidation   = errspkg.KindValidation
	KindNotFound     = errspkg.KindNotFound
	KindTimeout      = errspkg.KindTimeout
	KindTransport    = errspkg.KindTransport
	KindHandler      = errspkg.KindHandler
	KindUnauthorized = errspkg.KindUnauthorized
)

// Metadata keys set on every request, reply and event message.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyReplyTo       = metadatapkg.KeyReplyTo
	MetadataKeyPattern       = metadatapkg.KeyPattern
	MetadataKeyEventType     = metadatapkg.KeyEventType
	MetadataKeyEventID       = metadatapkg.KeyEventID
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryNotFound   = runtimepkg.ErrorCategoryNotFound
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryHandler    = runtimepkg.ErrorCategoryHandler
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

// RegisterJSONHandler registers a typed JSON handler on the service's server.
func RegisterJSONHandler[Req any, Resp any](svc *Service, cfg JSONHandlerRegistration[Req, Resp]) error {
	if svc == nil || svc.Server() == nil {
		return ErrServiceRequired
	}
	return runtimepkg.RegisterJSONHandler(svc.Server(), cfg)
}

// RegisterProtoHandler registers a typed protobuf handler on the service's server.
func RegisterProtoHandler[Req proto.Message, Resp proto.Message](svc *Service, cfg ProtoHandlerRegistration[Req, Resp]) error {
	if svc == nil || svc.Server() == nil {
		return ErrServiceRequired
	}
	return runtimepkg.RegisterProtoHandler(svc.Server(), cfg)
}

// OnEventJSON adapts a typed event handler for SubscriptionRegistration.
func OnEventJSON[T any](handler JSONEventHandler[T]) EventFunc {
	return runtimepkg.OnEventJSON(handler)
}

// HandleJSON adapts a typed JSON handler for HandlerRegistration.
func HandleJSON[Req any, Resp any](handler JSONHandler[Req, Resp]) HandlerFunc {
	return runtimepkg.HandleJSON(handler)
}
