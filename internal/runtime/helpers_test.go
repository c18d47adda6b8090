package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	loggingpkg "github.com/northwind-crm/crmbus/internal/runtime/logging"
	"github.com/northwind-crm/crmbus/internal/runtime/patterns"
	bustransport "github.com/northwind-crm/crmbus/transport"
)

const waitFor = 2 * time.Second

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func newTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// newChannelTransport returns an in-memory transport that is closed with the test.
func newChannelTransport(t *testing.T) (bustransport.Transport, *gochannel.GoChannel) {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })
	return bustransport.Transport{Publisher: pubSub, Subscriber: pubSub}, pubSub
}

// runRouter starts a router with the handlers added by setup and waits until
// it consumes messages.
func runRouter(t *testing.T, setup func(r *message.Router)) {
	t.Helper()
	router, err := message.NewRouter(message.RouterConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	setup(router)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = router.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-router.Running():
	case <-time.After(waitFor):
		t.Fatal("router did not start")
	}
}

// rpcFixture is a server for dest wired to a client over one gochannel.
type rpcFixture struct {
	server  *Server
	client  *Client
	metrics *Metrics
	pubSub  *gochannel.GoChannel
}

func newRPCFixture(t *testing.T, dest patterns.Destination, register func(s *Server)) *rpcFixture {
	t.Helper()
	tr, pubSub := newChannelTransport(t)
	metrics := newTestMetrics()

	server, err := NewServer(ServerConfig{Destination: dest}, tr.ReplyPublisher(), newTestLogger(), metrics)
	require.NoError(t, err)
	register(server)
	server.markStarted()

	runRouter(t, func(r *message.Router) {
		r.AddNoPublisherHandler(server.handlerName(), server.Queue(), tr.Subscriber, server.onMessage)
	})

	client, err := NewClient(context.Background(), tr, ClientConfig{Service: "test"}, newTestLogger(), metrics)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &rpcFixture{server: server, client: client, metrics: metrics, pubSub: pubSub}
}

// gatedPublisher blocks in Publish until released.
type gatedPublisher struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	count   atomic.Int32
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (p *gatedPublisher) Publish(topic string, messages ...*message.Message) error {
	p.entered <- struct{}{}
	<-p.release
	p.count.Add(int32(len(messages)))
	return nil
}

func (p *gatedPublisher) open() {
	p.once.Do(func() { close(p.release) })
}

func (p *gatedPublisher) Close() error {
	p.open()
	return nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(string, ...*message.Message) error {
	return errors.New("broker unreachable")
}

func (failingPublisher) Close() error { return nil }

type switchProbe struct {
	connected atomic.Bool
}

func (p *switchProbe) IsConnected() bool { return p.connected.Load() }
