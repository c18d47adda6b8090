package runtime

import (
	"time"

	"google.golang.org/protobuf/proto"

	errspkg "github.com/northwind-crm/crmbus/internal/runtime/errors"
	handlerpkg "github.com/northwind-crm/crmbus/internal/runtime/handlers"
	"github.com/northwind-crm/crmbus/internal/runtime/patterns"
)

// HandleJSON adapts a typed JSON handler. A nil handler yields a nil Func,
// which Register rejects with ErrHandlerRequired.
func HandleJSON[Req any, Resp any](handler handlerpkg.JSONHandler[Req, Resp]) handlerpkg.Func {
	fn, err := handlerpkg.JSON(handler)
	if err != nil {
		return nil
	}
	return fn
}

// HandleProto adapts a typed protobuf handler whose payloads travel as protojson.
func HandleProto[Req proto.Message, Resp proto.Message](handler handlerpkg.ProtoHandler[Req, Resp]) handlerpkg.Func {
	fn, err := handlerpkg.Proto(handler)
	if err != nil {
		return nil
	}
	return fn
}

// OnEventJSON adapts a typed event handler.
func OnEventJSON[T any](handler handlerpkg.JSONEventHandler[T]) handlerpkg.EventFunc {
	fn, err := handlerpkg.JSONEventFunc(handler)
	if err != nil {
		return nil
	}
	return fn
}

// JSONHandlerRegistration registers a typed JSON handler in one step.
type JSONHandlerRegistration[Req any, Resp any] struct {
	Pattern     patterns.Pattern
	Handler     handlerpkg.JSONHandler[Req, Resp]
	TimeoutHint time.Duration
}

// RegisterJSONHandler converts the typed handler and registers it on the server.
func RegisterJSONHandler[Req any, Resp any](server *Server, cfg JSONHandlerRegistration[Req, Resp]) error {
	if server == nil {
		return errspkg.ErrServiceRequired
	}
	fn, err := handlerpkg.JSON(cfg.Handler)
	if err != nil {
		return err
	}
	return server.Register(HandlerRegistration{
		Pattern:     cfg.Pattern,
		Handler:     fn,
		TimeoutHint: cfg.TimeoutHint,
	})
}

// ProtoHandlerRegistration registers a typed protobuf handler in one step.
type ProtoHandlerRegistration[Req proto.Message, Resp proto.Message] struct {
	Pattern     patterns.Pattern
	Handler     handlerpkg.ProtoHandler[Req, Resp]
	TimeoutHint time.Duration
}

// RegisterProtoHandler converts the typed handler and registers it on the server.
func RegisterProtoHandler[Req proto.Message, Resp proto.Message](server *Server, cfg ProtoHandlerRegistration[Req, Resp]) error {
	if server == nil {
		return errspkg.ErrServiceRequired
	}
	fn, err := handlerpkg.Proto(cfg.Handler)
	if err != nil {
		return err
	}
	return server.Register(HandlerRegistration{
		Pattern:     cfg.Pattern,
		Handler:     fn,
		TimeoutHint: cfg.TimeoutHint,
	})
}
