package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/northwind-crm/crmbus/internal/runtime/dedupe"
	"github.com/northwind-crm/crmbus/internal/runtime/envelope"
	rpcerrors "github.com/northwind-crm/crmbus/internal/runtime/errors"
	"github.com/northwind-crm/crmbus/internal/runtime/handlers"
	jsoncodec "github.com/northwind-crm/crmbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/northwind-crm/crmbus/internal/runtime/logging"
	metadatapkg "github.com/northwind-crm/crmbus/internal/runtime/metadata"
	"github.com/northwind-crm/crmbus/internal/runtime/outbox"
)

// DefaultEventQueueSize bounds the outbound queue when no size is configured.
const DefaultEventQueueSize = 1024

// DefaultOutboxTimeout bounds one outbox write when no timeout is configured.
const DefaultOutboxTimeout = 2 * time.Second

// EventBusConfig configures an EventBus.
type EventBusConfig struct {
	// Source is written into every emitted envelope.
	Source string
	// QueueSize bounds the outbound queue. Zero selects DefaultEventQueueSize.
	QueueSize int
	// Outbox parks events the queue or the broker cannot take. Without it
	// such events are dropped.
	Outbox outbox.Store
	Relay  outbox.RelayConfig
	// OutboxTimeout bounds each outbox write. Events whose write times out
	// are dropped.
	OutboxTimeout time.Duration
	// Dedupe backs subscriptions registered with Dedupe set.
	Dedupe dedupe.Store
	// PoisonQueueEnabled makes undecodable events fail so the poison queue
	// middleware can take them. Otherwise they are logged and acknowledged.
	PoisonQueueEnabled bool

	Hooks      HandlerHooks
	Classifier ErrorClassifier
}

// SubscriptionRegistration binds a named consumption point to an event type.
type SubscriptionRegistration struct {
	EventType string
	// Subscriber names the consumption point. Distinct names each receive
	// every event; replicas sharing a name compete.
	Subscriber string
	Handler    handlers.EventFunc
	// Dedupe skips event ids this subscriber already handled successfully.
	Dedupe bool
}

type subscription struct {
	registration SubscriptionRegistration
	stats        *HandlerStats
}

func (s *subscription) name() string {
	return "event." + s.registration.EventType + "." + s.registration.Subscriber
}

type outboundEvent struct {
	eventType string
	msg       *message.Message
}

// EmitOption customises an emitted envelope.
type EmitOption func(*envelope.Event)

// WithCorrelationID ties the event to the request that caused it.
func WithCorrelationID(id string) EmitOption {
	return func(e *envelope.Event) { e.CorrelationID = id }
}

// WithUserID records the acting user.
func WithUserID(id string) EmitOption {
	return func(e *envelope.Event) { e.UserID = id }
}

// EventBus publishes domain events without blocking the caller and
// dispatches them to independent subscribers.
type EventBus struct {
	cfg           EventBusConfig
	publisher     message.Publisher
	subscriberFor func(group string) (message.Subscriber, error)
	logger        loggingpkg.ServiceLogger
	metrics       *Metrics

	mu       sync.RWMutex
	queue    chan outboundEvent
	overflow chan outboundEvent
	closed   bool

	subsMu  sync.RWMutex
	subs    map[string]*subscription
	started bool

	cancel      context.CancelFunc
	publishDone chan struct{}
	parkDone    chan struct{}
	wg          sync.WaitGroup
}

// NewEventBus starts the background publisher, and the outbox relay when an
// outbox is configured. subscriberFor returns the subscriber of a consumption
// point; see transport.Transport.SubscriberForGroup.
func NewEventBus(ctx context.Context, cfg EventBusConfig, publisher message.Publisher, subscriberFor func(group string) (message.Subscriber, error), logger loggingpkg.ServiceLogger, metrics *Metrics) (*EventBus, error) {
	if cfg.Source == "" {
		return nil, rpcerrors.ErrServiceRequired
	}
	if publisher == nil {
		return nil, rpcerrors.ErrPublisherRequired
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultEventQueueSize
	}
	if cfg.OutboxTimeout <= 0 {
		cfg.OutboxTimeout = DefaultOutboxTimeout
	}
	if cfg.Classifier == nil {
		cfg.Classifier = defaultErrorClassifier
	}
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &EventBus{
		cfg:           cfg,
		publisher:     publisher,
		subscriberFor: subscriberFor,
		logger:        logger,
		metrics:       metrics,
		queue:         make(chan outboundEvent, cfg.QueueSize),
		overflow:      make(chan outboundEvent, cfg.QueueSize),
		subs:          make(map[string]*subscription),
		cancel:        cancel,
		publishDone:   make(chan struct{}),
		parkDone:      make(chan struct{}),
	}

	go b.publishLoop()
	go b.parkLoop()

	if cfg.Outbox != nil {
		relay := outbox.NewRelay(cfg.Outbox, publisher, logger, cfg.Relay)
		relay.OnPublished = metrics.eventsRelayedAdd
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			_ = relay.Run(runCtx)
		}()
	}
	return b, nil
}

// Emit builds an envelope around payload and queues it for publishing. It
// returns the event id. Emit never waits for the broker or the outbox: when
// the queue is full the event is handed to the outbox writer, or dropped
// without one.
func (b *EventBus) Emit(ctx context.Context, eventType string, payload any, opts ...EmitOption) (string, error) {
	if eventType == "" {
		return "", rpcerrors.Validation("event type is required")
	}
	data, err := jsoncodec.Raw(payload)
	if err != nil {
		return "", rpcerrors.Wrap(rpcerrors.KindValidation, "event payload is not JSON-encodable", err)
	}

	event := envelope.NewEvent(eventType, b.cfg.Source, data)
	for _, opt := range opts {
		opt(&event)
	}
	msg, err := envelope.NewEventMessage(event)
	if err != nil {
		return "", rpcerrors.Wrap(rpcerrors.KindValidation, "invalid event envelope", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return "", rpcerrors.ErrEventBusClosed
	}

	out := outboundEvent{eventType: eventType, msg: msg}
	select {
	case b.queue <- out:
		b.metrics.eventEmitted(eventType)
	default:
		b.logger.Info("Event queue full", loggingpkg.LogFields{"event_type": eventType, "event_id": event.EventID})
		b.handOff(out)
	}
	return event.EventID, nil
}

// handOff passes out to the outbox writer without waiting. The event is
// dropped when there is no outbox or the writer is saturated too.
func (b *EventBus) handOff(out outboundEvent) {
	fields := loggingpkg.LogFields{"event_type": out.eventType, "event_id": out.msg.UUID}
	if b.cfg.Outbox == nil {
		b.logger.Error("Dropping event", errors.New("no outbox configured"), fields)
		b.metrics.eventDropped(out.eventType)
		return
	}
	select {
	case b.overflow <- out:
	default:
		b.logger.Error("Dropping event", errors.New("outbox writer saturated"), fields)
		b.metrics.eventDropped(out.eventType)
	}
}

func (b *EventBus) parkLoop() {
	defer close(b.parkDone)
	for out := range b.overflow {
		b.park(out.eventType, out.msg)
	}
}

// park writes msg to the outbox within OutboxTimeout.
func (b *EventBus) park(eventType string, msg *message.Message) {
	fields := loggingpkg.LogFields{"event_type": eventType, "event_id": msg.UUID}
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.OutboxTimeout)
	defer cancel()

	err := b.cfg.Outbox.Save(ctx, outbox.Record{
		ID:        msg.UUID,
		Topic:     eventType,
		Payload:   msg.Payload,
		Metadata:  map[string]string(msg.Metadata),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		b.logger.Error("Dropping event, outbox rejected it", err, fields)
		b.metrics.eventDropped(eventType)
		return
	}
	b.logger.Debug("Parked event in outbox", fields)
	b.metrics.eventOverflowed(eventType)
}

func (b *EventBus) publishLoop() {
	defer close(b.publishDone)

	for out := range b.queue {
		if err := b.publisher.Publish(out.eventType, out.msg); err != nil {
			b.logger.Error("Failed to publish event", err, loggingpkg.LogFields{
				"event_type": out.eventType,
				"event_id":   out.msg.UUID,
			})
			b.handOff(out)
		}
	}
}

// Close stops accepting events, publishes what is still queued, finishes
// pending outbox writes and stops the relay.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	<-b.publishDone
	close(b.overflow)
	<-b.parkDone

	b.cancel()
	b.wg.Wait()
	return nil
}

// Subscribe registers a consumption point. Subscriptions are bound to the
// router when the owning service starts.
func (b *EventBus) Subscribe(reg SubscriptionRegistration) error {
	switch {
	case reg.EventType == "":
		return rpcerrors.ErrEventTypeRequired
	case reg.Subscriber == "":
		return rpcerrors.ErrSubscriberRequired
	case reg.Handler == nil:
		return rpcerrors.ErrHandlerRequired
	}

	sub := &subscription{registration: reg, stats: newHandlerStats()}

	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	if b.started {
		return rpcerrors.ErrServerStarted
	}
	if _, exists := b.subs[sub.name()]; exists {
		return fmt.Errorf("%w: %s on %s", rpcerrors.ErrDuplicateSubscriber, reg.Subscriber, reg.EventType)
	}
	b.subs[sub.name()] = sub
	b.logger.Info("Registered event subscriber", loggingpkg.LogFields{
		"event_type": reg.EventType,
		"subscriber": reg.Subscriber,
	})
	return nil
}

// AttachTo adds one router handler per subscription and freezes the set.
func (b *EventBus) AttachTo(router *message.Router) error {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	b.started = true
	for _, sub := range b.sortedSubscriptions() {
		if b.subscriberFor == nil {
			return errors.New("crmbus: event bus has no subscriber source")
		}
		subscriber, err := b.subscriberFor(sub.registration.Subscriber)
		if err != nil {
			return fmt.Errorf("subscriber for %s: %w", sub.registration.Subscriber, err)
		}
		router.AddNoPublisherHandler(sub.name(), sub.registration.EventType, subscriber, b.consumer(sub))
	}
	return nil
}

func (b *EventBus) hasSubscriptions() bool {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	return len(b.subs) > 0
}

func (b *EventBus) sortedSubscriptions() []*subscription {
	out := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name() < out[j].name() })
	return out
}

// HandlerInfos describes every subscription with its statistics.
func (b *EventBus) HandlerInfos() []*HandlerInfo {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()

	infos := make([]*HandlerInfo, 0, len(b.subs))
	for _, sub := range b.sortedSubscriptions() {
		infos = append(infos, &HandlerInfo{
			Name:       sub.name(),
			Kind:       HandlerKindEvent,
			Queue:      sub.registration.EventType,
			EventType:  sub.registration.EventType,
			Subscriber: sub.registration.Subscriber,
			Stats:      sub.stats,
		})
	}
	return infos
}

func (b *EventBus) consumer(sub *subscription) message.NoPublishHandlerFunc {
	reg := sub.registration
	logger := b.logger.With(loggingpkg.LogFields{"event_type": reg.EventType, "subscriber": reg.Subscriber})

	return func(msg *message.Message) error {
		event, err := envelope.DecodeEvent(msg)
		if err != nil {
			b.metrics.eventConsumed(reg.EventType, reg.Subscriber, outcomeMalformed)
			return b.unprocessable(logger, msg, fmt.Errorf("%w: %w", handlers.ErrUnprocessable, err))
		}

		ctx := msg.Context()
		if reg.Dedupe && b.cfg.Dedupe != nil {
			seen, err := b.cfg.Dedupe.Seen(ctx, reg.Subscriber, event.EventID)
			if err != nil {
				logger.Error("Dedupe lookup failed, handling event anyway", err, loggingpkg.LogFields{"event_id": event.EventID})
			} else if seen {
				logger.Debug("Skipping already handled event", loggingpkg.LogFields{"event_id": event.EventID})
				b.metrics.eventConsumed(reg.EventType, reg.Subscriber, outcomeSkipped)
				return nil
			}
		}

		ctx, span := otel.Tracer(tracerName).Start(ctx, "event.consume "+reg.EventType)
		defer span.End()
		span.SetAttributes(
			attribute.String("event.id", event.EventID),
			attribute.String("event.type", event.EventType),
			attribute.String("event.subscriber", reg.Subscriber),
		)

		md := metadatapkg.FromWatermill(msg.Metadata)
		hc := HandlerContext{
			Kind:          HandlerKindEvent,
			Name:          sub.name(),
			EventType:     reg.EventType,
			Subscriber:    reg.Subscriber,
			CorrelationID: event.CorrelationID,
			MessageUUID:   msg.UUID,
			Metadata:      md,
		}

		started := time.Now()
		sub.stats.onStart()
		err = b.cfg.Hooks.run(hc, func() error {
			return b.invoke(ctx, reg.Handler, handlers.Event{
				MessageContextBase: handlers.MessageContextBase{
					Metadata: md,
					Logger:   logger.With(loggingpkg.LogFields{"event_id": event.EventID}),
				},
				Event: event,
			})
		})
		sub.stats.onFinish(time.Since(started), err, b.cfg.Classifier)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler failed")
			if errors.Is(err, handlers.ErrUnprocessable) {
				b.metrics.eventConsumed(reg.EventType, reg.Subscriber, outcomeMalformed)
				return b.unprocessable(logger, msg, err)
			}
			b.metrics.eventConsumed(reg.EventType, reg.Subscriber, outcomeError)
			logger.Error("Event handler failed, message will be redelivered", err, loggingpkg.LogFields{"event_id": event.EventID})
			return err
		}

		if reg.Dedupe && b.cfg.Dedupe != nil {
			if err := b.cfg.Dedupe.Mark(ctx, reg.Subscriber, event.EventID); err != nil {
				logger.Error("Failed to record handled event", err, loggingpkg.LogFields{"event_id": event.EventID})
			}
		}
		b.metrics.eventConsumed(reg.EventType, reg.Subscriber, outcomeOK)
		return nil
	}
}

func (b *EventBus) invoke(ctx context.Context, fn handlers.EventFunc, event handlers.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panicked: %v", r)
		}
	}()
	return fn(ctx, event)
}

// unprocessable either hands err to the poison queue middleware or
// acknowledges the message after logging it.
func (b *EventBus) unprocessable(logger loggingpkg.ServiceLogger, msg *message.Message, err error) error {
	if b.cfg.PoisonQueueEnabled {
		return err
	}
	logger.Error("Discarding unprocessable event", err, loggingpkg.LogFields{"message_uuid": msg.UUID})
	return nil
}
