// Command gateway serves the CRM HTTP API and forwards every request to the
// owning service over the message bus.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/northwind-crm/crmbus/internal/gateway"
	"github.com/northwind-crm/crmbus/internal/runtime"
	"github.com/northwind-crm/crmbus/internal/runtime/config"
	"github.com/northwind-crm/crmbus/internal/runtime/logging"
)

func main() {
	conf, err := config.FromEnv()
	if err != nil {
		logging.NewJSONServiceLogger(os.Stderr, slog.LevelInfo, "gateway").Error("Failed to load config", err, nil)
		os.Exit(1)
	}
	if conf.ServiceName == "" || conf.ServiceName == "crm" {
		conf.ServiceName = "gateway"
	}
	level, _ := conf.SlogLevel()
	logger := logging.NewJSONServiceLogger(os.Stdout, level, conf.ServiceName)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, logger); err != nil {
		logger.Error("Gateway stopped", err, nil)
		os.Exit(1)
	}
	logger.Info("Gateway exiting", nil)
}

func run(ctx context.Context, conf *config.Config, logger logging.ServiceLogger) error {
	svc, err := runtime.New(ctx, conf, logger, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}

	gw, err := gateway.New(svc.Client(), logger, gateway.Config{
		Registry:    svc.Registry(),
		DisableAuth: conf.GatewayDisableAuth,
	})
	if err != nil {
		_ = svc.Close()
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Start(ctx)
	})
	g.Go(func() error {
		select {
		case <-svc.Running():
		case <-ctx.Done():
			return nil
		}
		return gw.Serve(ctx, conf.GatewayAddress, conf.GatewayShutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
