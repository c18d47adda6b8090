package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	idspkg "github.com/northwind-crm/crmbus/internal/runtime/ids"
	jsoncodec "github.com/northwind-crm/crmbus/internal/runtime/jsoncodec"
	metadatapkg "github.com/northwind-crm/crmbus/internal/runtime/metadata"
)

// SchemaVersion is the version stamped on every event envelope.
const SchemaVersion = "1.0"

// ErrMalformedEvent is returned when an event cannot be decoded or lacks a
// required attribute.
var ErrMalformedEvent = errors.New("envelope: malformed event")

// Event is the versioned domain event envelope.
type Event struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlationId,omitempty"`
	UserID        string          `json:"userId,omitempty"`
	Version       string          `json:"version"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEvent builds an envelope with a fresh ULID and the current UTC time.
func NewEvent(eventType, source string, payload json.RawMessage) Event {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Event{
		EventID:   idspkg.CreateULID(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Version:   SchemaVersion,
		Payload:   payload,
	}
}

// Validate checks that the envelope carries every required attribute.
func (e Event) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("%w: eventId is required", ErrMalformedEvent)
	case e.EventType == "":
		return fmt.Errorf("%w: eventType is required", ErrMalformedEvent)
	case e.Source == "":
		return fmt.Errorf("%w: source is required", ErrMalformedEvent)
	case e.Version != SchemaVersion:
		return fmt.Errorf("%w: unsupported version %q", ErrMalformedEvent, e.Version)
	}
	return nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return jsoncodec.Unmarshal(e.Payload, v)
}

// NewEventMessage encodes e as a Watermill message whose UUID is the event id.
func NewEventMessage(e Event) (*message.Message, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	payload, err := jsoncodec.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	msg := message.NewMessage(e.EventID, payload)
	msg.Metadata.Set(metadatapkg.KeyEventID, e.EventID)
	msg.Metadata.Set(metadatapkg.KeyEventType, e.EventType)
	msg.Metadata.Set(metadatapkg.KeySource, e.Source)
	if e.CorrelationID != "" {
		msg.Metadata.Set(metadatapkg.KeyCorrelationID, e.CorrelationID)
	}
	return msg, nil
}

// DecodeEvent reads and validates the event carried by msg.
func DecodeEvent(msg *message.Message) (Event, error) {
	var e Event
	if err := jsoncodec.Unmarshal(msg.Payload, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
