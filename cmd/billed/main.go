package main

import (
	"fmt"
	"log/slog"
	"time"

	"billed/internal/cli"
	"billed/internal/config"
	apphttp "billed/internal/http"
	"billed/internal/log"
	"billed/internal/metrics"
	"billed/internal/middleware/trace"
	"billed/internal/store/api"
)

func main() {
	cli.LoadEnvFile()

	cfg, logger, err := cli.Bootstrap()
	cli.Exit(logger, err)
	cli.Exit(logger, run(cfg, logger))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	hc := api.NewHTTPClient()
	hc.Transport = trace.Transport{Base: hc.Transport}

	srv, err := apphttp.NewServer(apphttp.Options{
		Addr:          ":" + cfg.Port,
		Backend:       apphttp.APIBackend{Client: api.New(cfg.APIBaseURL, hc).WithLogger(logger)},
		Metrics:       metrics.New("billed"),
		Logger:        logger,
		DraftTTL:      cfg.DraftTTL,
		SecureCookies: cfg.SecureCookies,
		ImageOrigins:  []string{cfg.PublicBaseURL},
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}
	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = 2 * time.Minute // uploads are forwarded within the request
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, stop := cli.SignalContext()
	defer stop()

	logger.Info("Starting billed web front", log.FieldOperation, log.OpStartup,
		"port", cfg.Port, "api_base_url", cfg.APIBaseURL)
	if err := cli.Run(ctx, logger, srv, 30*time.Second); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
