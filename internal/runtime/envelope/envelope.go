// Package envelope defines the wire shapes exchanged over the broker: RPC
// requests, RPC replies and versioned domain events, together with their
// conversion to and from Watermill messages.
//
// Correlation id, reply topic and reply status travel as message metadata so
// brokers and middleware can route on them without decoding the payload.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	rpcerrors "github.com/northwind-crm/crmbus/internal/runtime/errors"
	idspkg "github.com/northwind-crm/crmbus/internal/runtime/ids"
	jsoncodec "github.com/northwind-crm/crmbus/internal/runtime/jsoncodec"
	metadatapkg "github.com/northwind-crm/crmbus/internal/runtime/metadata"
)

var (
	// ErrMalformedRequest is returned when a request payload cannot be decoded.
	ErrMalformedRequest = errors.New("envelope: malformed request")
	// ErrMalformedReply is returned when a reply is missing its correlation id
	// or carries an undecodable error body.
	ErrMalformedReply = errors.New("envelope: malformed reply")
)

// Request is the payload of an RPC request message.
type Request struct {
	Pattern string          `json:"pattern"`
	Data    json.RawMessage `json:"data"`
}

// ErrorBody is the payload of a failed reply.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reply is a decoded RPC reply. Exactly one of Result and Err is meaningful.
type Reply struct {
	CorrelationID string
	Result        json.RawMessage
	Err           *rpcerrors.Error
}

// NewRequestMessage encodes a request. replyTo may be empty for requests
// that expect no answer.
func NewRequestMessage(correlationID, replyTo, pattern string, data json.RawMessage) (*message.Message, error) {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	payload, err := jsoncodec.Marshal(Request{Pattern: pattern, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata.Set(metadatapkg.KeyCorrelationID, correlationID)
	msg.Metadata.Set(metadatapkg.KeyPattern, pattern)
	if replyTo != "" {
		msg.Metadata.Set(metadatapkg.KeyReplyTo, replyTo)
	}
	return msg, nil
}

// DecodeRequest reads the request carried by msg.
func DecodeRequest(msg *message.Message) (Request, error) {
	var req Request
	if err := jsoncodec.Unmarshal(msg.Payload, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if req.Pattern == "" {
		return Request{}, fmt.Errorf("%w: pattern is missing", ErrMalformedRequest)
	}
	if len(req.Data) == 0 {
		req.Data = json.RawMessage("null")
	}
	return req, nil
}

// NewReplyMessage encodes a successful reply.
func NewReplyMessage(correlationID string, result json.RawMessage) *message.Message {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	msg := message.NewMessage(idspkg.CreateULID(), message.Payload(result))
	msg.Metadata.Set(metadatapkg.KeyCorrelationID, correlationID)
	msg.Metadata.Set(metadatapkg.KeyStatus, metadatapkg.StatusOK)
	return msg
}

// NewErrorReplyMessage encodes a failed reply. Only the kind and message of
// rpcErr are written.
func NewErrorReplyMessage(correlationID string, rpcErr *rpcerrors.Error) (*message.Message, error) {
	payload, err := jsoncodec.Marshal(ErrorBody{Code: string(rpcErr.Kind), Message: rpcErr.Message})
	if err != nil {
		return nil, fmt.Errorf("encode error reply: %w", err)
	}
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata.Set(metadatapkg.KeyCorrelationID, correlationID)
	msg.Metadata.Set(metadatapkg.KeyStatus, metadatapkg.StatusError)
	return msg, nil
}

// DecodeReply reads the reply carried by msg. An error code outside the known
// taxonomy is reported as a HANDLER error.
func DecodeReply(msg *message.Message) (Reply, error) {
	correlationID := msg.Metadata.Get(metadatapkg.KeyCorrelationID)
	if correlationID == "" {
		return Reply{}, fmt.Errorf("%w: correlation id is missing", ErrMalformedReply)
	}

	reply := Reply{CorrelationID: correlationID}
	if msg.Metadata.Get(metadatapkg.KeyStatus) != metadatapkg.StatusError {
		reply.Result = json.RawMessage(msg.Payload)
		if len(reply.Result) == 0 {
			reply.Result = json.RawMessage("null")
		}
		return reply, nil
	}

	var body ErrorBody
	if err := jsoncodec.Unmarshal(msg.Payload, &body); err != nil {
		return reply, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	kind := rpcerrors.Kind(body.Code)
	if !rpcerrors.Known(kind) {
		kind = rpcerrors.KindHandler
	}
	reply.Err = rpcerrors.New(kind, body.Message)
	return reply, nil
}
