package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/northwind-crm/crmbus/internal/runtime/errors"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

var protoJSONUnmarshalOptions = protojson.UnmarshalOptions{
	DiscardUnknown: true,
}

// ProtoRequest provides strongly typed access to a protobuf request payload.
type ProtoRequest[T proto.Message] struct {
	MessageContextBase
	Pattern string
	Payload T
}

// ProtoHandler serves a request whose payload and result are protobuf
// messages carried as protojson.
type ProtoHandler[Req proto.Message, Resp proto.Message] func(ctx context.Context, req ProtoRequest[Req]) (Resp, error)

// Proto converts a typed protobuf handler into a Func.
func Proto[Req proto.Message, Resp proto.Message](handler ProtoHandler[Req, Resp]) (Func, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	var zero Req
	prototype, err := EnsureProtoPrototype(zero)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, req Request) (json.RawMessage, error) {
		typed, err := clonePrototype(prototype)
		if err != nil {
			return nil, err
		}

		if string(req.Data) != "null" {
			if err := protoJSONUnmarshalOptions.Unmarshal(req.Data, typed); err != nil {
				return nil, errspkg.Wrap(errspkg.KindValidation, fmt.Sprintf("invalid payload for %s", req.Pattern), err)
			}
		}

		resp, err := handler(ctx, ProtoRequest[Req]{
			MessageContextBase: req.MessageContextBase,
			Pattern:            req.Pattern,
			Payload:            typed,
		})
		if err != nil {
			return nil, err
		}
		if isNilProto(resp) {
			return json.RawMessage("null"), nil
		}

		raw, err := protoJSONMarshalOptions.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("encode %s result: %w", req.Pattern, err)
		}
		return raw, nil
	}, nil
}

func clonePrototype[T proto.Message](prototype T) (T, error) {
	cloned := proto.Clone(prototype)
	proto.Reset(cloned)

	typed, ok := cloned.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected prototype type %T", cloned)
	}
	return typed, nil
}

// EnsureProtoPrototype returns candidate, or a fresh instance of its type
// when candidate is a nil pointer.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return zero, fmt.Errorf("crmbus: proto request type must be a pointer, got %v", typ)
	}

	typed, ok := reflect.New(typ.Elem()).Interface().(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto[T proto.Message](prototype T) bool {
	msg := proto.Message(prototype)
	if msg == nil {
		return true
	}

	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
