// Package cli provides the start-up and shutdown steps shared by
// cmd/billed, cmd/billed-api and cmd/billed-worker.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"billed/internal/config"
	"billed/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// Bootstrap loads configuration and builds the logger it describes. The
// logger also becomes slog's default. Validation is left to the caller
// since each binary checks a different subset.
func Bootstrap() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := log.New(log.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return nil, nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Server is the part of http.Server that Run drives.
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// Run serves srv alongside workers until ctx is done or one of them fails,
// then shuts srv down within timeout. Workers get a context cancelled at
// the same moment.
func Run(ctx context.Context, logger *slog.Logger, srv Server, timeout time.Duration, workers ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	for _, w := range workers {
		g.Go(func() error { return w(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", log.FieldOperation, log.OpShutdown, "reason", context.Cause(gctx))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Exit logs err and terminates the process when err is not nil.
func Exit(logger *slog.Logger, err error) {
	if err == nil {
		return
	}
	if logger != nil {
		logger.Error("Fatal error", log.FieldError, err)
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}
