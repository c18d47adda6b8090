package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	rpcerrors "github.com/northwind-crm/crmbus/internal/runtime/errors"
	"github.com/northwind-crm/crmbus/internal/runtime/envelope"
	idspkg "github.com/northwind-crm/crmbus/internal/runtime/ids"
	jsoncodec "github.com/northwind-crm/crmbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/northwind-crm/crmbus/internal/runtime/logging"
	"github.com/northwind-crm/crmbus/internal/runtime/patterns"
	bustransport "github.com/northwind-crm/crmbus/transport"
)

const (
	replyTopicPrefix     = "rpc.reply."
	defaultProbeInterval = time.Second
	tracerName           = "github.com/northwind-crm/crmbus/runtime"
)

// Client outcome labels beyond outcomeOK.
const (
	outcomeTimeout   = "timeout"
	outcomeTransport = "transport"
	outcomeRemote    = "remote_error"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Service names the calling process; it is part of the reply topic.
	Service string
	// Registry validates destinations and patterns. Defaults to patterns.Default().
	Registry *patterns.Registry
	// ProbeInterval is how often a transport connection probe is polled.
	ProbeInterval time.Duration
}

// Client issues request/reply calls over a transport. All calls of one
// client share a single reply topic and are told apart by correlation id.
type Client struct {
	publisher message.Publisher
	probe     bustransport.ConnectionProbe
	registry  *patterns.Registry
	logger    loggingpkg.ServiceLogger
	metrics   *Metrics

	replyTopic string
	pending    *pendingTable

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewClient subscribes to a fresh reply topic and starts consuming replies.
// The subscription is live when NewClient returns, so replies to the first
// call cannot be missed.
func NewClient(ctx context.Context, tr bustransport.Transport, cfg ClientConfig, logger loggingpkg.ServiceLogger, metrics *Metrics) (*Client, error) {
	if cfg.Service == "" {
		return nil, rpcerrors.ErrServiceRequired
	}
	if tr.Publisher == nil {
		return nil, rpcerrors.ErrPublisherRequired
	}
	replies := tr.ReplySubscriber()
	if replies == nil {
		return nil, errors.New("crmbus: reply subscriber is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = patterns.Default()
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}

	c := &Client{
		publisher:  tr.Publisher,
		probe:      tr.Probe,
		registry:   cfg.Registry,
		metrics:    metrics,
		replyTopic: replyTopicPrefix + cfg.Service + "." + idspkg.CreateULID(),
		pending:    newPendingTable(),
	}
	c.logger = logger.With(loggingpkg.LogFields{"reply_topic": c.replyTopic})

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	msgs, err := replies.Subscribe(subCtx, c.replyTopic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to reply topic %s: %w", c.replyTopic, err)
	}

	go c.consumeReplies(msgs)
	if c.probe != nil {
		go c.watchConnection(subCtx, cfg.ProbeInterval)
	}
	return c, nil
}

// ReplyTopic returns the topic this client receives replies on.
func (c *Client) ReplyTopic() string {
	return c.replyTopic
}

// Pending returns the number of calls awaiting a reply.
func (c *Client) Pending() int {
	return c.pending.len()
}

// Call sends payload to pattern on destination and waits up to timeout for
// the reply. The returned error is always an *rpcerrors.Error:
// VALIDATION when the call was rejected before sending, TIMEOUT when no reply
// arrived in time or ctx ended, TRANSPORT on broker failure, otherwise the
// kind reported by the remote handler.
func (c *Client) Call(ctx context.Context, dest patterns.Destination, pattern patterns.Pattern, payload any, timeout time.Duration) (json.RawMessage, error) {
	data, err := c.prepare(dest, pattern, payload)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, rpcerrors.Validation("timeout must be positive, got %s", timeout).WithCall(string(dest), string(pattern))
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "rpc.call "+string(pattern))
	defer span.End()
	span.SetAttributes(
		attribute.String("rpc.destination", string(dest)),
		attribute.String("rpc.pattern", string(pattern)),
	)

	call := newPendingCall(string(dest), string(pattern))
	correlationID, err := c.register(call)
	if err != nil {
		return c.finish(span, call, nil, err)
	}
	span.SetAttributes(attribute.String("rpc.correlation_id", correlationID))

	msg, err := envelope.NewRequestMessage(correlationID, c.replyTopic, string(pattern), data)
	if err != nil {
		c.pending.take(correlationID)
		return c.finish(span, call, nil, rpcerrors.Wrap(rpcerrors.KindValidation, "encode request", err))
	}

	queue, _ := c.registry.Lookup(dest)
	if err := c.publisher.Publish(queue, msg); err != nil {
		if _, ok := c.pending.take(correlationID); ok {
			return c.finish(span, call, nil, rpcerrors.Wrap(rpcerrors.KindTransport, "publish request", err))
		}
		// resolved by a drain in the meantime
		res := <-call.result
		return c.finish(span, call, res.data, res.err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-call.result:
		return c.finish(span, call, res.data, res.err)
	case <-timer.C:
		if _, ok := c.pending.take(correlationID); ok {
			return c.finish(span, call, nil, rpcerrors.New(rpcerrors.KindTimeout, fmt.Sprintf("no reply within %s", timeout)))
		}
	case <-ctx.Done():
		if _, ok := c.pending.take(correlationID); ok {
			return c.finish(span, call, nil, rpcerrors.Wrap(rpcerrors.KindTimeout, "call abandoned", ctx.Err()))
		}
	}

	// The reply or a drain won the race for the entry; its value is buffered.
	res := <-call.result
	return c.finish(span, call, res.data, res.err)
}

// Send publishes a request without a reply topic. The remote handler runs but
// nothing is sent back.
func (c *Client) Send(ctx context.Context, dest patterns.Destination, pattern patterns.Pattern, payload any) error {
	data, err := c.prepare(dest, pattern, payload)
	if err != nil {
		return err
	}
	msg, err := envelope.NewRequestMessage(idspkg.NewCorrelationID(), "", string(pattern), data)
	if err != nil {
		return rpcerrors.Wrap(rpcerrors.KindValidation, "encode request", err).WithCall(string(dest), string(pattern))
	}
	msg.SetContext(ctx)

	queue, _ := c.registry.Lookup(dest)
	if err := c.publisher.Publish(queue, msg); err != nil {
		return rpcerrors.Wrap(rpcerrors.KindTransport, "publish request", err).WithCall(string(dest), string(pattern))
	}
	return nil
}

// Close fails every pending call with a TRANSPORT error and stops consuming
// replies. Later calls fail the same way.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		closedErr := rpcerrors.Wrap(rpcerrors.KindTransport, "client closed", rpcerrors.ErrClientClosed)
		if n := c.pending.close(closedErr); n > 0 {
			c.logger.Info("Drained pending calls on close", loggingpkg.LogFields{"count": n})
		}
		c.metrics.setPending(0)
		c.cancel()
	})
	return nil
}

// CallInto performs a call and decodes the reply into out.
func CallInto(ctx context.Context, c *Client, dest patterns.Destination, pattern patterns.Pattern, payload any, timeout time.Duration, out any) error {
	raw, err := c.Call(ctx, dest, pattern, payload, timeout)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := jsoncodec.Unmarshal(raw, out); err != nil {
		return rpcerrors.Wrap(rpcerrors.KindHandler, "decode reply", err).WithCall(string(dest), string(pattern))
	}
	return nil
}

func (c *Client) prepare(dest patterns.Destination, pattern patterns.Pattern, payload any) (json.RawMessage, error) {
	if err := c.registry.Validate(dest, pattern); err != nil {
		return nil, rpcerrors.Wrap(rpcerrors.KindValidation, err.Error(), err).WithCall(string(dest), string(pattern))
	}
	data, err := jsoncodec.Raw(payload)
	if err != nil {
		return nil, rpcerrors.Wrap(rpcerrors.KindValidation, "payload is not JSON-encodable", err).WithCall(string(dest), string(pattern))
	}
	return data, nil
}

func (c *Client) register(call *pendingCall) (string, error) {
	for {
		id := idspkg.NewCorrelationID()
		err := c.pending.insert(id, call)
		if errors.Is(err, errCorrelationCollision) {
			continue
		}
		if err != nil {
			return "", err
		}
		c.metrics.setPending(c.pending.len())
		return id, nil
	}
}

// finish records the outcome of a call and returns its result with the error
// in final form.
func (c *Client) finish(span trace.Span, call *pendingCall, data json.RawMessage, err error) (json.RawMessage, error) {
	c.metrics.setPending(c.pending.len())

	outcome := outcomeOK
	var rpcErr *rpcerrors.Error
	if err != nil {
		if !errors.As(err, &rpcErr) {
			rpcErr = rpcerrors.Wrap(rpcerrors.KindTransport, err.Error(), err)
		}
		rpcErr = rpcErr.WithCall(call.destination, call.pattern)
		switch rpcErr.Kind {
		case rpcerrors.KindTimeout:
			outcome = outcomeTimeout
		case rpcerrors.KindTransport:
			outcome = outcomeTransport
		default:
			outcome = outcomeRemote
		}
		span.RecordError(rpcErr)
		span.SetStatus(codes.Error, string(rpcErr.Kind))
	}
	c.metrics.observeCall(call.destination, call.pattern, outcome, time.Since(call.started))

	if rpcErr == nil {
		return data, nil
	}
	return nil, rpcErr
}

func (c *Client) consumeReplies(msgs <-chan *message.Message) {
	for msg := range msgs {
		c.handleReply(msg)
		msg.Ack()
	}

	n := c.pending.close(rpcerrors.New(rpcerrors.KindTransport, "reply subscription closed"))
	if n > 0 {
		c.logger.Error("Reply subscription closed with calls pending", nil, loggingpkg.LogFields{"count": n})
	}
	c.metrics.setPending(c.pending.len())
}

func (c *Client) handleReply(msg *message.Message) {
	reply, err := envelope.DecodeReply(msg)
	if err != nil {
		c.logger.Error("Malformed reply", err, loggingpkg.LogFields{
			"message_uuid":   msg.UUID,
			"correlation_id": reply.CorrelationID,
		})
		if reply.CorrelationID == "" {
			return
		}
		reply.Err = rpcerrors.Wrap(rpcerrors.KindHandler, "malformed error reply", err)
	}

	call, ok := c.pending.take(reply.CorrelationID)
	if !ok {
		c.logger.Debug("Dropping late reply", loggingpkg.LogFields{"correlation_id": reply.CorrelationID})
		c.metrics.lateReply()
		return
	}

	if reply.Err != nil {
		call.result <- callResult{err: reply.Err}
		return
	}
	call.result <- callResult{data: reply.Result}
}

func (c *Client) watchConnection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.probe.IsConnected() {
				continue
			}
			if n := c.pending.drain(rpcerrors.New(rpcerrors.KindTransport, "broker connection lost")); n > 0 {
				c.logger.Error("Broker connection lost, failed pending calls", nil, loggingpkg.LogFields{"count": n})
				c.metrics.setPending(0)
			}
		}
	}
}
