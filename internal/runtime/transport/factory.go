// Package transport resolves the broker transport a Service runs on.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/northwind-crm/crmbus/internal/runtime/config"
	bustransport "github.com/northwind-crm/crmbus/transport"

	// Import all transport packages to register them.
	_ "github.com/northwind-crm/crmbus/transport/transports"
)

// Factory abstracts how a Service obtains its broker transport.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (bustransport.Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (bustransport.Transport, error)

// Build calls f.
func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (bustransport.Transport, error) {
	return f(ctx, conf, logger)
}

// Static returns a Factory that always hands out t. Several services in one
// process can share an in-memory broker this way.
func Static(t bustransport.Transport) Factory {
	return FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (bustransport.Transport, error) {
		return t, nil
	})
}

// DefaultFactory returns the factory that resolves conf.PubSubSystem through
// the transport registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (bustransport.Transport, error) {
	if conf == nil {
		return bustransport.Transport{}, fmt.Errorf("config is required")
	}
	return bustransport.Build(ctx, conf, logger)
}
