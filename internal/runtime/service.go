package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/northwind-crm/crmbus/internal/runtime/config"
	"github.com/northwind-crm/crmbus/internal/runtime/dedupe"
	rpcerrors "github.com/northwind-crm/crmbus/internal/runtime/errors"
	loggingpkg "github.com/northwind-crm/crmbus/internal/runtime/logging"
	"github.com/northwind-crm/crmbus/internal/runtime/outbox"
	"github.com/northwind-crm/crmbus/internal/runtime/patterns"
	transportpkg "github.com/northwind-crm/crmbus/internal/runtime/transport"
	bustransport "github.com/northwind-crm/crmbus/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

const httpShutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators of a Service. Zero
// values select the defaults derived from the configuration.
type ServiceDependencies struct {
	TransportFactory transportpkg.Factory
	// Registry defaults to patterns.Default().
	Registry *patterns.Registry
	// Destination is the destination this process serves. Leave empty for
	// processes that only call others, such as the gateway.
	Destination patterns.Destination

	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.

	ErrorClassifier ErrorClassifier
	Hooks           HandlerHooks

	// Outbox overrides the PostgreSQL outbox selected by Conf.PostgresURL.
	Outbox outbox.Store
	// Dedupe overrides the Redis or in-memory store selected by Conf.RedisAddr.
	Dedupe dedupe.Store

	// MetricsRegisterer receives the crmbus and router collectors. Defaults to
	// the global registerer when metrics are enabled and to a private registry
	// otherwise.
	MetricsRegisterer prometheus.Registerer
}

// Service owns one broker connection and everything running over it: the
// RPC client, the RPC server of its destination and the event bus.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport bustransport.Transport
	router    *message.Router
	registry  *patterns.Registry

	client *Client
	server *Server
	events *EventBus

	metrics           *Metrics
	metricsRegisterer prometheus.Registerer
	metricsGatherer   prometheus.Gatherer

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	runningHTTP   []*http.Server

	errorClassifier ErrorClassifier
	closers         []func() error

	started   atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
}

// NewService is New for callers that treat construction failures as fatal.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := New(ctx, conf, log, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// New builds the transport, the router with its middleware chain, the RPC
// client, the RPC server when deps.Destination is set, and the event bus.
// Register handlers and subscribers before calling Start.
func New(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errors.New("crmbus: config is required")
	}
	if log == nil {
		log = loggingpkg.NewNopLogger()
	}
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating crmbus service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"destination":   string(deps.Destination),
		"config":        conf.String(),
	})

	if err := checkRequestReply(conf.PubSubSystem, deps.Destination, log); err != nil {
		return nil, err
	}

	s := &Service{
		Conf:            conf,
		Logger:          log,
		registry:        deps.Registry,
		errorClassifier: deps.ErrorClassifier,
		ready:           make(chan struct{}),
	}
	if s.registry == nil {
		s.registry = patterns.Default()
	}
	if s.errorClassifier == nil {
		s.errorClassifier = defaultErrorClassifier
	}

	s.setupMetrics(deps.MetricsRegisterer)
	if err := s.metrics.Register(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	tr, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}
	s.transport = tr
	s.closers = append(s.closers, tr.Close)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		s.closeResources()
		return nil, err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		s.closeResources()
		return nil, err
	}

	if err := s.buildComponents(ctx, deps); err != nil {
		s.closeResources()
		return nil, err
	}
	return s, nil
}

// checkRequestReply rejects transports that cannot deliver a reply to the
// calling instance. Every service owns an RPC client, so a transport without
// reply queues would leave each Call waiting for its timeout. Transports that
// are not registered are left to the factory.
func checkRequestReply(pubSubSystem string, dest patterns.Destination, log loggingpkg.ServiceLogger) error {
	caps := bustransport.GetCapabilities(pubSubSystem)
	if caps.Name == "" || caps.SupportsRequestReply() {
		return nil
	}
	if !caps.SupportsReplyQueues {
		log.Error("Transport cannot carry RPC replies", rpcerrors.ErrNoReplyQueues, loggingpkg.LogFields{
			"pubsub_system": pubSubSystem,
		})
		return fmt.Errorf("%w: %s", rpcerrors.ErrNoReplyQueues, pubSubSystem)
	}
	if dest != "" {
		log.Info("Transport has no competing consumers, every replica of this destination handles each request", loggingpkg.LogFields{
			"pubsub_system": pubSubSystem,
			"destination":   string(dest),
		})
	}
	return nil
}

func (s *Service) setupMetrics(registerer prometheus.Registerer) {
	if registerer == nil {
		if s.Conf.MetricsEnabled {
			registerer = prometheus.DefaultRegisterer
		} else {
			registerer = prometheus.NewRegistry()
		}
	}
	s.metricsRegisterer = registerer
	if gatherer, ok := registerer.(prometheus.Gatherer); ok {
		s.metricsGatherer = gatherer
	} else {
		s.metricsGatherer = prometheus.DefaultGatherer
	}
	s.metrics = NewMetrics(registerer)
}

func (s *Service) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.metricsGatherer, promhttp.HandlerOpts{})
}

func (s *Service) serviceName(deps ServiceDependencies) string {
	switch {
	case s.Conf.ServiceName != "":
		return s.Conf.ServiceName
	case deps.Destination != "":
		return string(deps.Destination)
	default:
		return "crm"
	}
}

func (s *Service) buildComponents(ctx context.Context, deps ServiceDependencies) error {
	name := s.serviceName(deps)

	outboxStore, err := s.openOutbox(ctx, deps)
	if err != nil {
		return err
	}
	dedupeStore, err := s.openDedupe(ctx, deps)
	if err != nil {
		return err
	}

	s.client, err = NewClient(ctx, s.transport, ClientConfig{
		Service:       name,
		Registry:      s.registry,
		ProbeInterval: s.Conf.ConnectionProbeInterval,
	}, s.Logger, s.metrics)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, s.client.Close)

	if deps.Destination != "" {
		s.server, err = NewServer(ServerConfig{
			Destination: deps.Destination,
			Registry:    s.registry,
			Hooks:       deps.Hooks,
			Classifier:  s.errorClassifier,
		}, s.transport.ReplyPublisher(), s.Logger, s.metrics)
		if err != nil {
			return err
		}
	}

	s.events, err = NewEventBus(ctx, EventBusConfig{
		Source:    name,
		QueueSize: s.Conf.EventQueueSize,
		Outbox:    outboxStore,
		Relay: outbox.RelayConfig{
			Interval:  s.Conf.EventRelayInterval,
			BatchSize: s.Conf.EventRelayBatchSize,
		},
		Dedupe:             dedupeStore,
		PoisonQueueEnabled: s.Conf.PoisonQueue != "",
		Hooks:              deps.Hooks,
		Classifier:         s.errorClassifier,
	}, s.transport.BroadcastPublisher(), s.transport.SubscriberForGroup, s.Logger, s.metrics)
	if err != nil {
		return err
	}
	// the bus flushes its queue before the transport closes
	s.closers = append(s.closers, s.events.Close)
	return nil
}

func (s *Service) openOutbox(ctx context.Context, deps ServiceDependencies) (outbox.Store, error) {
	if deps.Outbox != nil {
		return deps.Outbox, nil
	}
	if s.Conf.PostgresURL == "" {
		return nil, nil
	}
	store, closeFn, err := outbox.OpenPostgresStore(ctx, s.Conf.PostgresURL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() error {
		closeFn()
		return nil
	})
	s.Logger.Info("Using PostgreSQL event outbox", nil)
	return store, nil
}

func (s *Service) openDedupe(ctx context.Context, deps ServiceDependencies) (dedupe.Store, error) {
	if deps.Dedupe != nil {
		return deps.Dedupe, nil
	}
	if s.Conf.RedisAddr == "" {
		return dedupe.NewMemoryStore(s.Conf.DedupeTTL), nil
	}
	store, closeFn, err := dedupe.OpenRedisStore(ctx, dedupe.RedisConfig{
		Addr:     s.Conf.RedisAddr,
		Password: s.Conf.RedisPassword,
		DB:       s.Conf.RedisDB,
	}, s.Conf.DedupeTTL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeFn)
	s.Logger.Info("Using Redis event dedupe", loggingpkg.LogFields{"addr": s.Conf.RedisAddr})
	return store, nil
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// Client returns the RPC client.
func (s *Service) Client() *Client { return s.client }

// Server returns the RPC server, or nil when the service has no destination.
func (s *Service) Server() *Server { return s.server }

// Events returns the event bus.
func (s *Service) Events() *EventBus { return s.events }

// Registry returns the pattern registry in use.
func (s *Service) Registry() *patterns.Registry { return s.registry }

// Register adds an RPC handler for the service's destination.
func (s *Service) Register(reg HandlerRegistration) error {
	if s.server == nil {
		return rpcerrors.ErrNoDestination
	}
	return s.server.Register(reg)
}

// Subscribe registers an event subscriber.
func (s *Service) Subscribe(reg SubscriptionRegistration) error {
	return s.events.Subscribe(reg)
}

// Running is closed once the service consumes messages.
func (s *Service) Running() <-chan struct{} {
	return s.ready
}

func (s *Service) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Start binds handlers and subscribers to the router and runs until ctx is
// cancelled. Everything the service owns is released before Start returns.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return rpcerrors.ErrAlreadyStarted
	}
	defer s.Close()

	if s.server != nil {
		s.server.markStarted()
		if s.server.hasHandlers() {
			s.router.AddNoPublisherHandler(s.server.handlerName(), s.server.Queue(), s.transport.Subscriber, s.server.onMessage)
		}
	}
	if err := s.events.AttachTo(s.router); err != nil {
		return err
	}

	s.StartAdminServer()
	s.startHTTPServers()

	if len(s.router.Handlers()) == 0 {
		s.Logger.Info("No handlers registered, serving calls only", nil)
		s.markReady()
		<-ctx.Done()
		return nil
	}

	go func() {
		select {
		case <-s.router.Running():
			s.markReady()
		case <-ctx.Done():
		}
	}()
	return routerRun(s.router, ctx)
}

// Close releases the event bus, the client, the HTTP servers, the transport
// and any store connections. Start calls it on return.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.router != nil {
			_ = s.router.Close()
		}
		s.stopHTTPServers()
		err = s.closeResources()
	})
	return err
}

// closeResources runs the registered closers, newest first.
func (s *Service) closeResources() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// RegisterHTTPHandler mounts handler on the HTTP server listening on port.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.runningHTTP = append(s.runningHTTP, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
}

func (s *Service) stopHTTPServers() {
	s.httpServersMu.Lock()
	servers := s.runningHTTP
	s.runningHTTP = nil
	s.httpServersMu.Unlock()

	for _, srv := range servers {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to stop HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
		cancel()
	}
}
