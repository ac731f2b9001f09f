// internal/server/server.go
//
// HTTP server helper with fixed timeouts.
//
//   • ReadHeaderTimeout  slow-loris headers (5 s)
//   • ReadTimeout        whole request (10 s)
//   • WriteTimeout       total response time (15 s)
//   • IdleTimeout        idle keep-alives (60 s)
//
// Run serves until ctx is cancelled, then drains in-flight requests for up
// to ShutdownGrace.

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ShutdownGrace bounds graceful shutdown.
const ShutdownGrace = 10 * time.Second

// New constructs an *http.Server with the default timeouts.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Run blocks in ListenAndServe until ctx ends or the listener fails.
func Run(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		zap.S().Infow("http listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()
	zap.S().Infow("http shutting down", "grace", ShutdownGrace)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
