package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	rpcerrors "github.com/northwind-crm/crmbus/internal/runtime/errors"
	"github.com/northwind-crm/crmbus/internal/runtime/envelope"
	"github.com/northwind-crm/crmbus/internal/runtime/handlers"
	loggingpkg "github.com/northwind-crm/crmbus/internal/runtime/logging"
	metadatapkg "github.com/northwind-crm/crmbus/internal/runtime/metadata"
	"github.com/northwind-crm/crmbus/internal/runtime/patterns"
)

const (
	outcomeNotFound  = "not_found"
	outcomeMalformed = "malformed"
	outcomeError     = "error"
)

// HandlerRegistration binds one pattern to its handler.
type HandlerRegistration struct {
	Pattern patterns.Pattern
	Handler handlers.Func
	// TimeoutHint bounds the handler context when set.
	TimeoutHint time.Duration
}

type serverEntry struct {
	registration HandlerRegistration
	stats        *HandlerStats
}

// Server answers requests addressed to one destination. Handlers are
// registered before the owning service starts; the dispatch table is
// read-only afterwards.
type Server struct {
	destination patterns.Destination
	registry    *patterns.Registry
	replies     message.Publisher
	logger      loggingpkg.ServiceLogger
	metrics     *Metrics
	hooks       HandlerHooks
	classifier  ErrorClassifier

	mu      sync.RWMutex
	table   map[patterns.Pattern]*serverEntry
	started bool
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Destination patterns.Destination
	Registry    *patterns.Registry
	Hooks       HandlerHooks
	Classifier  ErrorClassifier
}

// NewServer builds a server that publishes replies through replies.
func NewServer(cfg ServerConfig, replies message.Publisher, logger loggingpkg.ServiceLogger, metrics *Metrics) (*Server, error) {
	if cfg.Registry == nil {
		cfg.Registry = patterns.Default()
	}
	if _, ok := cfg.Registry.Lookup(cfg.Destination); !ok {
		return nil, fmt.Errorf("%w: %q", rpcerrors.ErrUnknownDestination, cfg.Destination)
	}
	if replies == nil {
		return nil, rpcerrors.ErrPublisherRequired
	}
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = defaultErrorClassifier
	}
	return &Server{
		destination: cfg.Destination,
		registry:    cfg.Registry,
		replies:     replies,
		logger:      logger.With(loggingpkg.LogFields{"destination": string(cfg.Destination)}),
		metrics:     metrics,
		hooks:       cfg.Hooks,
		classifier:  cfg.Classifier,
		table:       make(map[patterns.Pattern]*serverEntry),
	}, nil
}

// Destination returns the destination this server answers for.
func (s *Server) Destination() patterns.Destination {
	return s.destination
}

// Queue returns the work queue this server consumes.
func (s *Server) Queue() string {
	return s.destination.Queue()
}

// Register adds a handler. It fails after start, for a nil handler, for a
// pattern the registry does not list under this destination and for a
// pattern registered twice.
func (s *Server) Register(reg HandlerRegistration) error {
	if reg.Handler == nil {
		return rpcerrors.ErrHandlerRequired
	}
	if reg.Pattern == "" {
		return rpcerrors.ErrPatternRequired
	}
	if err := s.registry.Validate(s.destination, reg.Pattern); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return rpcerrors.ErrServerStarted
	}
	if _, exists := s.table[reg.Pattern]; exists {
		return fmt.Errorf("%w: %s", rpcerrors.ErrDuplicatePattern, reg.Pattern)
	}
	s.table[reg.Pattern] = &serverEntry{registration: reg, stats: newHandlerStats()}
	s.logger.Info("Registered RPC handler", loggingpkg.LogFields{"pattern": string(reg.Pattern)})
	return nil
}

// MustRegister is Register that panics on error.
func (s *Server) MustRegister(reg HandlerRegistration) {
	if err := s.Register(reg); err != nil {
		panic(err)
	}
}

// Patterns lists the registered patterns in order.
func (s *Server) Patterns() []patterns.Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]patterns.Pattern, 0, len(s.table))
	for p := range s.table {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HandlerInfos describes every registered handler with its statistics.
func (s *Server) HandlerInfos() []*HandlerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]*HandlerInfo, 0, len(s.table))
	for p, entry := range s.table {
		info := &HandlerInfo{
			Name:    s.handlerName(),
			Kind:    HandlerKindRPC,
			Queue:   s.Queue(),
			Pattern: string(p),
			Stats:   entry.stats,
		}
		if entry.registration.TimeoutHint > 0 {
			info.Timeout = entry.registration.TimeoutHint.String()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Pattern < infos[j].Pattern })
	return infos
}

func (s *Server) handlerName() string {
	return "rpc." + string(s.destination)
}

// markStarted freezes the dispatch table.
func (s *Server) markStarted() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
}

func (s *Server) hasHandlers() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.table) > 0
}

// onMessage serves one request. It never returns an error: every request is
// acknowledged once its reply has been attempted.
func (s *Server) onMessage(msg *message.Message) error {
	ctx := msg.Context()
	correlationID := msg.Metadata.Get(metadatapkg.KeyCorrelationID)
	replyTo := msg.Metadata.Get(metadatapkg.KeyReplyTo)

	req, err := envelope.DecodeRequest(msg)
	if err != nil {
		s.logger.Error("Malformed request", err, loggingpkg.LogFields{
			"message_uuid":   msg.UUID,
			"correlation_id": correlationID,
		})
		s.metrics.observeRequest("", outcomeMalformed, 0)
		s.reply(correlationID, replyTo, nil, rpcerrors.Wrap(rpcerrors.KindValidation, "malformed request", err))
		return nil
	}

	pattern := patterns.Pattern(req.Pattern)
	s.mu.RLock()
	entry, ok := s.table[pattern]
	s.mu.RUnlock()
	if !ok {
		s.logger.Debug("No handler for pattern", loggingpkg.LogFields{
			"pattern":        req.Pattern,
			"correlation_id": correlationID,
		})
		s.metrics.observeRequest(req.Pattern, outcomeNotFound, 0)
		s.reply(correlationID, replyTo, nil, rpcerrors.New(rpcerrors.KindNotFound, "no handler for pattern "+req.Pattern))
		return nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "rpc.serve "+req.Pattern)
	defer span.End()
	span.SetAttributes(
		attribute.String("rpc.destination", string(s.destination)),
		attribute.String("rpc.pattern", req.Pattern),
		attribute.String("rpc.correlation_id", correlationID),
	)

	md := metadatapkg.FromWatermill(msg.Metadata)
	hc := HandlerContext{
		Kind:          HandlerKindRPC,
		Name:          s.handlerName(),
		Pattern:       req.Pattern,
		CorrelationID: correlationID,
		MessageUUID:   msg.UUID,
		Metadata:      md,
	}

	var result json.RawMessage
	started := time.Now()
	entry.stats.onStart()
	err = s.hooks.run(hc, func() error {
		var callErr error
		result, callErr = s.invoke(ctx, entry.registration, handlers.Request{
			MessageContextBase: handlers.MessageContextBase{
				Metadata: md,
				Logger:   s.logger.With(loggingpkg.LogFields{"pattern": req.Pattern, "correlation_id": correlationID}),
			},
			Pattern: req.Pattern,
			Data:    req.Data,
		})
		return callErr
	})
	elapsed := time.Since(started)
	entry.stats.onFinish(elapsed, err, s.classifier)

	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, string(rpcerrors.KindOf(err)))
	}
	s.metrics.observeRequest(req.Pattern, outcome, elapsed)

	s.reply(correlationID, replyTo, result, err)
	return nil
}

// invoke runs the handler, bounding it by the timeout hint and turning a
// panic into a HANDLER error.
func (s *Server) invoke(ctx context.Context, reg HandlerRegistration, req handlers.Request) (result json.RawMessage, err error) {
	if reg.TimeoutHint > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, reg.TimeoutHint)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Handler panicked", fmt.Errorf("%v", r), loggingpkg.LogFields{"pattern": req.Pattern})
			result = nil
			err = rpcerrors.Handler("handler panicked")
		}
	}()

	return reg.Handler(ctx, req)
}

// reply publishes the outcome to replyTo. Requests without a reply topic are
// fire-and-forget.
func (s *Server) reply(correlationID, replyTo string, result json.RawMessage, handlerErr error) {
	if replyTo == "" {
		return
	}
	if correlationID == "" {
		s.logger.Error("Cannot reply without correlation id", errors.New("missing correlation id"), loggingpkg.LogFields{"reply_to": replyTo})
		return
	}

	var (
		msg *message.Message
		err error
	)
	if handlerErr != nil {
		msg, err = envelope.NewErrorReplyMessage(correlationID, rpcerrors.AsRPCError(handlerErr))
	} else {
		msg = envelope.NewReplyMessage(correlationID, result)
	}
	if err == nil {
		err = s.replies.Publish(replyTo, msg)
	}
	if err != nil {
		s.logger.Error("Failed to publish reply", err, loggingpkg.LogFields{
			"correlation_id": correlationID,
			"reply_to":       replyTo,
		})
	}
}
