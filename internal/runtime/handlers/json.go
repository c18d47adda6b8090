package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	errspkg "github.com/northwind-crm/crmbus/internal/runtime/errors"
	jsoncodec "github.com/northwind-crm/crmbus/internal/runtime/jsoncodec"
)

// JSONRequest exposes the decoded request payload to JSON handlers.
type JSONRequest[T any] struct {
	MessageContextBase
	Pattern string
	Payload T
}

// JSONHandler serves a request with a typed JSON payload and result.
type JSONHandler[Req any, Resp any] func(ctx context.Context, req JSONRequest[Req]) (Resp, error)

// JSON converts a typed JSON handler into a Func. A payload that does not
// decode into Req is answered with a VALIDATION error.
func JSON[Req any, Resp any](handler JSONHandler[Req, Resp]) (Func, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	return func(ctx context.Context, req Request) (json.RawMessage, error) {
		var payload Req
		if err := jsoncodec.Unmarshal(req.Data, &payload); err != nil {
			return nil, errspkg.Wrap(errspkg.KindValidation, fmt.Sprintf("invalid payload for %s", req.Pattern), err)
		}

		resp, err := handler(ctx, JSONRequest[Req]{
			MessageContextBase: req.MessageContextBase,
			Pattern:            req.Pattern,
			Payload:            payload,
		})
		if err != nil {
			return nil, err
		}

		raw, err := jsoncodec.Raw(resp)
		if err != nil {
			return nil, fmt.Errorf("encode %s result: %w", req.Pattern, err)
		}
		return raw, nil
	}, nil
}

// JSONEvent exposes the decoded event payload to JSON event handlers.
type JSONEvent[T any] struct {
	Event
	Payload T
}

// JSONEventHandler consumes an event with a typed JSON payload.
type JSONEventHandler[T any] func(ctx context.Context, event JSONEvent[T]) error

// JSONEventFunc converts a typed event handler into an EventFunc. Payloads
// that do not decode into T are reported as ErrUnprocessable.
func JSONEventFunc[T any](handler JSONEventHandler[T]) (EventFunc, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	return func(ctx context.Context, event Event) error {
		var payload T
		if err := event.Decode(&payload); err != nil {
			return fmt.Errorf("%w: %s payload: %v", ErrUnprocessable, event.EventType, err)
		}
		return handler(ctx, JSONEvent[T]{Event: event, Payload: payload})
	}, nil
}
