package transport

// Capabilities describes what a broker backend offers to the RPC and event layers.
type Capabilities struct {
	// Name is the registry name of the transport.
	Name string

	// SupportsCompetingConsumers means replicas of one service share a work
	// queue and each request is handled by a single replica.
	SupportsCompetingConsumers bool

	// SupportsBroadcastGroups means every named consumption point receives its
	// own copy of a broadcast message.
	SupportsBroadcastGroups bool

	// SupportsReplyQueues means a client instance can own a private reply queue.
	SupportsReplyQueues bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// SupportsOrdering indicates the transport preserves per-queue ordering.
	SupportsOrdering bool

	// SupportsTracing indicates the transport propagates metadata headers.
	SupportsTracing bool

	// SupportsConnectionProbe means the transport exposes a ConnectionProbe, so
	// pending calls fail fast when the broker connection drops.
	SupportsConnectionProbe bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// SupportsRequestReply reports whether RPC calls can be routed to exactly one
// replica and answered on a private reply queue.
func (c Capabilities) SupportsRequestReply() bool {
	return c.SupportsCompetingConsumers && c.SupportsReplyQueues
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:                "channel",
		SupportsReplyQueues: true,
		SupportsOrdering:    true,
		SupportsAck:         true,
		SupportsNack:        true,
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP.
	RabbitMQCapabilities = Capabilities{
		Name:                       "rabbitmq",
		SupportsCompetingConsumers: true,
		SupportsBroadcastGroups:    true,
		SupportsReplyQueues:        true,
		SupportsAck:                true,
		SupportsNack:               true,
		SupportsOrdering:           true,
		SupportsTracing:            true,
		SupportsConnectionProbe:    true,
	}

	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:                       "kafka",
		SupportsCompetingConsumers: true,
		SupportsBroadcastGroups:    true,
		SupportsReplyQueues:        true,
		SupportsAck:                true,
		SupportsOrdering:           true,
		SupportsTracing:            true,
		MaxMessageSize:             1048576, // Default 1MB
	}

	// NATSCapabilities for NATS Core.
	NATSCapabilities = Capabilities{
		Name:                       "nats",
		SupportsCompetingConsumers: true,
		SupportsBroadcastGroups:    true,
		SupportsReplyQueues:        true,
		SupportsTracing:            true,
		MaxMessageSize:             1048576, // Default 1MB
	}

	// AWSCapabilities for AWS SNS/SQS.
	AWSCapabilities = Capabilities{
		Name:                       "aws",
		SupportsCompetingConsumers: true,
		SupportsBroadcastGroups:    true,
		SupportsReplyQueues:        true,
		SupportsAck:                true,
		SupportsNack:               true,
		SupportsTracing:            true,
		MaxMessageSize:             262144, // 256KB
	}

	// HTTPCapabilities for the webhook-style HTTP transport.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
