package runtime

import (
	"time"

	loggingpkg "github.com/northwind-crm/crmbus/internal/runtime/logging"
	metadatapkg "github.com/northwind-crm/crmbus/internal/runtime/metadata"
)

// HandlerContext describes one dispatch of an RPC handler or event subscriber.
type HandlerContext struct {
	// Kind is HandlerKindRPC or HandlerKindEvent.
	Kind string
	// Name is the router handler name.
	Name string
	// Pattern is set for RPC dispatches.
	Pattern string
	// EventType and Subscriber are set for event dispatches.
	EventType  string
	Subscriber string

	CorrelationID string
	MessageUUID   string
	Metadata      metadatapkg.Metadata

	StartedAt time.Time
	// Duration is only set in OnDone and OnError.
	Duration time.Duration
}

// HandlerHooks are optional callbacks around every dispatch. Nil hooks are skipped.
type HandlerHooks struct {
	OnStart func(ctx HandlerContext)
	OnDone  func(ctx HandlerContext)
	OnError func(ctx HandlerContext, err error)
}

// Merge returns hooks that call h first and then other.
func (h HandlerHooks) Merge(other HandlerHooks) HandlerHooks {
	return HandlerHooks{
		OnStart: chainHooks(h.OnStart, other.OnStart),
		OnDone:  chainHooks(h.OnDone, other.OnDone),
		OnError: chainErrorHooks(h.OnError, other.OnError),
	}
}

func chainHooks(a, b func(HandlerContext)) func(HandlerContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx HandlerContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(HandlerContext, error)) func(HandlerContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx HandlerContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// run invokes fn between the start and completion hooks and returns its error.
func (h HandlerHooks) run(hc HandlerContext, fn func() error) error {
	hc.StartedAt = time.Now()
	if h.OnStart != nil {
		h.OnStart(hc)
	}

	err := fn()

	hc.Duration = time.Since(hc.StartedAt)
	if err != nil {
		if h.OnError != nil {
			h.OnError(hc, err)
		}
		return err
	}
	if h.OnDone != nil {
		h.OnDone(hc)
	}
	return nil
}

func (hc HandlerContext) logFields() loggingpkg.LogFields {
	fields := loggingpkg.LogFields{
		"handler":        hc.Name,
		"kind":           hc.Kind,
		"message_uuid":   hc.MessageUUID,
		"correlation_id": hc.CorrelationID,
	}
	if hc.Pattern != "" {
		fields["pattern"] = hc.Pattern
	}
	if hc.EventType != "" {
		fields["event_type"] = hc.EventType
		fields["subscriber"] = hc.Subscriber
	}
	if hc.Duration > 0 {
		fields["duration_ms"] = hc.Duration.Milliseconds()
	}
	return fields
}

// LoggingHooks logs every dispatch at debug level and failures at error level.
func LoggingHooks(logger loggingpkg.ServiceLogger) HandlerHooks {
	return HandlerHooks{
		OnStart: func(ctx HandlerContext) {
			logger.Debug("Handler started", ctx.logFields())
		},
		OnDone: func(ctx HandlerContext) {
			logger.Debug("Handler completed", ctx.logFields())
		},
		OnError: func(ctx HandlerContext, err error) {
			logger.Error("Handler failed", err, ctx.logFields())
		},
	}
}

// AlertingHooks calls alertFunc on every failed dispatch.
func AlertingHooks(alertFunc func(ctx HandlerContext, err error)) HandlerHooks {
	return HandlerHooks{
		OnError: alertFunc,
	}
}
