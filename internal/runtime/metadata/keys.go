package metadata

// Reserved metadata keys carried on every crmbus message.
const (
	// KeyCorrelationID pairs a reply with its request. Events carry it too when
	// they were emitted while serving a call.
	KeyCorrelationID = "correlation_id"

	// KeyReplyTo names the reply queue of the calling client instance.
	KeyReplyTo = "reply_to"

	// KeyPattern repeats the request pattern for routing-free inspection.
	KeyPattern = "rpc_pattern"

	// KeyStatus is "ok" or "error" on replies.
	KeyStatus = "rpc_status"

	// KeyEventType and KeyEventID tag broadcast domain events.
	KeyEventType = "event_type"
	KeyEventID   = "event_id"

	// KeySource names the emitting service.
	KeySource = "source"

	// KeyTraceID and KeySpanID carry tracing identifiers.
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"
)

// Reply status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)
