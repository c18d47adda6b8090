package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_SupportsReliableDelivery(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want bool
	}{
		{name: "ack and nack", caps: Capabilities{SupportsAck: true, SupportsNack: true}, want: true},
		{name: "ack only", caps: Capabilities{SupportsAck: true}, want: false},
		{name: "nack only", caps: Capabilities{SupportsNack: true}, want: false},
		{name: "neither", caps: Capabilities{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.SupportsReliableDelivery())
		})
	}
}

func TestCapabilities_SupportsRequestReply(t *testing.T) {
	assert.True(t, RabbitMQCapabilities.SupportsRequestReply())
	assert.True(t, KafkaCapabilities.SupportsRequestReply())
	assert.True(t, NATSCapabilities.SupportsRequestReply())
	assert.True(t, AWSCapabilities.SupportsRequestReply())
	assert.False(t, HTTPCapabilities.SupportsRequestReply())
	// a single in-process channel delivers to every subscriber of a topic
	assert.False(t, ChannelCapabilities.SupportsRequestReply())
}

func TestPredefinedCapabilities(t *testing.T) {
	all := []Capabilities{
		ChannelCapabilities,
		RabbitMQCapabilities,
		KafkaCapabilities,
		NATSCapabilities,
		AWSCapabilities,
		HTTPCapabilities,
	}

	names := make(map[string]struct{}, len(all))
	for _, caps := range all {
		assert.NotEmpty(t, caps.Name)
		names[caps.Name] = struct{}{}
	}
	assert.Len(t, names, len(all))

	assert.True(t, RabbitMQCapabilities.SupportsConnectionProbe)
	assert.True(t, RabbitMQCapabilities.SupportsReliableDelivery())
	assert.Equal(t, int64(262144), AWSCapabilities.MaxMessageSize)
}
