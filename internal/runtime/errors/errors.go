// Package errors holds the sentinel errors of crmbus and the RPC error
// taxonomy that crosses process boundaries.
package errors

import sterrors "errors"

var (
	ErrServiceRequired     = sterrors.New("crmbus: service is required")
	ErrHandlerRequired     = sterrors.New("crmbus: handler function is required")
	ErrPatternRequired     = sterrors.New("crmbus: pattern is required")
	ErrDuplicatePattern    = sterrors.New("crmbus: pattern already registered")
	ErrUnknownPattern      = sterrors.New("crmbus: pattern not in registry")
	ErrUnknownDestination  = sterrors.New("crmbus: destination not in registry")
	ErrServerStarted       = sterrors.New("crmbus: handlers must be registered before start")
	ErrEventTypeRequired   = sterrors.New("crmbus: event type is required")
	ErrSubscriberRequired  = sterrors.New("crmbus: subscriber name is required")
	ErrDuplicateSubscriber = sterrors.New("crmbus: subscriber already bound to event type")
	ErrEventBusClosed      = sterrors.New("crmbus: event bus is closed")
	ErrClientClosed        = sterrors.New("crmbus: rpc client is closed")
	ErrPublisherRequired   = sterrors.New("crmbus: publisher is required")
	ErrNoDestination       = sterrors.New("crmbus: service has no destination to serve")
	ErrAlreadyStarted      = sterrors.New("crmbus: service already started")
	ErrNoReplyQueues       = sterrors.New("crmbus: transport cannot route replies to a caller")
)
