package main

import (
	"fmt"
	"log/slog"
	"time"

	"billed/internal/amqp"
	"billed/internal/api"
	"billed/internal/auth"
	"billed/internal/backend"
	"billed/internal/cli"
	"billed/internal/config"
	"billed/internal/log"
	"billed/internal/metrics"
	"billed/internal/services"
	"billed/internal/storage"
)

func main() {
	cli.LoadEnvFile()

	cfg, logger, err := cli.Bootstrap()
	cli.Exit(logger, err)
	cli.Exit(logger, run(cfg, logger))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.ValidateAPI(); err != nil {
		return err
	}

	ctx, stop := cli.SignalContext()
	defer stop()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return err
	}

	seeds, err := config.ParseSeedUsers(cfg.SeedUsers)
	if err != nil {
		return err
	}
	if err := api.SeedUsers(ctx, res.Repository, seeds, logger); err != nil {
		return err
	}

	blobs, err := storage.NewBlobStore(cfg.AttachmentsDir, cfg.MaxUploadBytes)
	if err != nil {
		return err
	}

	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, log.Component(logger, log.ComponentAMQP))
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without export", log.FieldError, err)
		} else {
			publisher = amqpClient
			logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}
	bills := services.NewBillService(res.Repository, publisher, logger)
	defer func() {
		if err := bills.Close(); err != nil {
			logger.Error("Closing bill service failed", log.FieldError, err)
		}
	}()

	srv, err := api.NewServer(api.Options{
		Addr:           ":" + cfg.APIPort,
		Bills:          bills,
		Blobs:          blobs,
		Tokens:         auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL),
		Metrics:        metrics.New("billed_api"),
		Logger:         logger,
		PublicBaseURL:  cfg.PublicBaseURL,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}
	srv.ReadTimeout = time.Minute
	srv.WriteTimeout = time.Minute
	srv.IdleTimeout = 60 * time.Second

	logger.Info("Starting billed API", log.FieldOperation, log.OpStartup,
		"port", cfg.APIPort, "backend", cfg.DataBackend)
	if err := cli.Run(ctx, logger, srv, 30*time.Second); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
