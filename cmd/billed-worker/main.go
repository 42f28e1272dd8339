package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"billed/internal/amqp"
	"billed/internal/backend"
	"billed/internal/cli"
	"billed/internal/config"
	"billed/internal/log"
	"billed/internal/metrics"
	"billed/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg, logger, err := cli.Bootstrap()
	cli.Exit(logger, err)
	cli.Exit(logger, run(cfg, logger))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting billed-worker", log.FieldOperation, log.OpStartup)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required by the export worker")
	}
	if cfg.DataBackend == config.BackendMemory {
		logger.Warn("Memory backend is process-local, the worker will not see bills stored by the API")
	}

	ctx, stop := cli.SignalContext()
	defer stop()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	factory := backend.NewFactory(logger)
	res, err := factory.CreateBackend(ctx, bcfg)
	if err != nil {
		return err
	}
	defer res.Cleanup()

	exporter, err := factory.CreateExporter(ctx, bcfg)
	if err != nil {
		return err
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, log.Component(logger, log.ComponentAMQP))
	if err != nil {
		return fmt.Errorf("initialize AMQP client: %w", err)
	}
	defer amqpClient.Close()

	m := metrics.New("billed_worker")
	exportWorker := worker.NewExportWorker(res.Repository, exporter, m, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	probe := &http.Server{Addr: ":" + cfg.WorkerPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	consume := func(ctx context.Context) error {
		err := amqpClient.ConsumeBillSubmitted(ctx, exportWorker.HandleBillSubmitted)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("message consumption: %w", err)
	}
	if err := cli.Run(ctx, logger, probe, 10*time.Second, consume); err != nil {
		return err
	}
	logger.Info("Worker stopped gracefully")
	return nil
}
