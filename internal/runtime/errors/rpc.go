package errors

import (
	sterrors "errors"
	"fmt"
)

// Kind classifies an RPC failure. It is the only structured part of an error
// that crosses the wire.
type Kind string

const (
	// KindValidation marks malformed input. The call was either never sent or
	// rejected by the handler.
	KindValidation Kind = "VALIDATION"
	// KindNotFound marks an unknown pattern or a missing entity.
	KindNotFound Kind = "NOT_FOUND"
	// KindTimeout marks a call whose reply did not arrive within its bound.
	KindTimeout Kind = "TIMEOUT"
	// KindTransport marks a broker failure: publish error, lost connection or
	// client shutdown.
	KindTransport Kind = "TRANSPORT"
	// KindHandler marks any other failure raised by the remote handler.
	KindHandler Kind = "HANDLER"
	// KindUnauthorized marks a rejected credential.
	KindUnauthorized Kind = "UNAUTHORIZED"
)

// Sentinels for errors.Is checks against a Kind.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrTimeout      = &Error{Kind: KindTimeout}
	ErrTransport    = &Error{Kind: KindTransport}
	ErrHandler      = &Error{Kind: KindHandler}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
)

// Error is the uniform RPC error. Only Kind and Message are serialized; the
// cause and call coordinates stay local to the process that built the value.
type Error struct {
	Kind    Kind
	Message string

	Destination string
	Pattern     string

	cause error
}

func (e *Error) Error() string {
	switch {
	case e.Pattern != "" && e.Message != "":
		return fmt.Sprintf("%s %s: %s", e.Kind, e.Pattern, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	default:
		return string(e.Kind)
	}
}

// Unwrap exposes the local cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrTimeout) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithCall returns a copy tagged with the destination and pattern of the call.
func (e *Error) WithCall(destination, pattern string) *Error {
	clone := *e
	clone.Destination = destination
	clone.Pattern = pattern
	return &clone
}

// New builds an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an error of the given kind that keeps cause for local inspection.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Validation reports invalid input.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// NotFound reports a missing entity of the given type and id.
func NotFound(entity string, id any) *Error {
	return New(KindNotFound, fmt.Sprintf("%s %v not found", entity, id))
}

// Unauthorized reports a rejected credential.
func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

// Handler reports a failure inside a remote handler.
func Handler(message string) *Error {
	return New(KindHandler, message)
}

// KindOf returns the Kind of err, or KindHandler when err carries none.
func KindOf(err error) Kind {
	var rpcErr *Error
	if sterrors.As(err, &rpcErr) {
		return rpcErr.Kind
	}
	return KindHandler
}

// AsRPCError converts any error into the form that is safe to send across the
// wire: an *Error keeps its kind and message, anything else becomes a
// HANDLER error carrying only err.Error().
func AsRPCError(err error) *Error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if sterrors.As(err, &rpcErr) {
		return New(rpcErr.Kind, rpcErr.Message)
	}
	return New(KindHandler, err.Error())
}

// Known reports whether kind is part of the taxonomy.
func Known(kind Kind) bool {
	switch kind {
	case KindValidation, KindNotFound, KindTimeout, KindTransport, KindHandler, KindUnauthorized:
		return true
	}
	return false
}
