package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	loggingpkg "github.com/northwind-crm/crmbus/internal/runtime/logging"
)

// Serve listens on addr until ctx is done, then drains in-flight requests for
// at most shutdownTimeout.
func (g *Gateway) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("Gateway listening", loggingpkg.LogFields{"address": addr, "routes": len(g.routes)})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	g.logger.Info("Shutting down gateway", nil)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
