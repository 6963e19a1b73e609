package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/activities"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/cmd"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/config"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/ledger"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/log"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/otelhelper"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/pipeline"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/resolver"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/services"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const shutdownTimeout = 30 * time.Second

func run(ctx context.Context, command *cli.Command) error {
	closer := log.Setup(command.String("log-level"), command.String("log-file"))
	defer func() { _ = closer.Close() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("review-worker").With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing review worker")

	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}

	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	var tracer trace.Tracer

	if command.Bool("tracing") {
		var shutdownTracer func(context.Context) error

		tracer, shutdownTracer, err = otelhelper.NewTracer(ctx, "review-worker")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error("Failed to shutdown tracer provider", "error", err)
			}
		}()
	}

	deps := pipeline.Deps{
		Activities:  activities.NewCommandActivities(logger, cfg.Activities()),
		Persistence: store,
		Recorder:    ledger.NewRecorder(ledger.NewPublisher(logger), cfg.Ledger.Namespace, cfg.Ledger.OutputDir),
		Events:      eventBus,
		Tracer:      tracer,
		Logger:      logger,
	}

	maxDownload, err := cfg.Resolver.MaxDownloadBytes()
	if err != nil {
		return fmt.Errorf("resolver.max_download: %w", err)
	}

	ledgerResolver := resolver.New(logger, cfg.Resolver.CacheDir, []string{cfg.ArtifactRoot, cfg.Ledger.OutputDir},
		resolver.WithMaxDownloadBytes(maxDownload))

	manager := services.NewManager(logger, deps, ledgerResolver,
		pipeline.WithWorkerID(workerID),
		pipeline.WithPersistTimeout(cfg.Pipeline.PersistTimeout),
		pipeline.WithCommandBuffer(cfg.Pipeline.CommandBuffer),
	)
	manager.SetDefaultRelay(cfg.Relay())

	janitor := resolver.NewJanitor(logger, cfg.Resolver.CacheDir, cfg.Resolver.CacheTTL)
	if cfg.Resolver.JanitorSchedule != "" {
		if err := janitor.Start(cfg.Resolver.JanitorSchedule); err != nil {
			return err
		}
	}

	if err := manager.HandleSignals(eventBus); err != nil {
		return err
	}

	if err := eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to review signals: %w", err)
	}

	recovered, err := manager.Recover(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Some review pipelines could not be resumed", "error", err)
	}

	logger.InfoContext(ctx, "Review pipelines recovered", "count", recovered)

	app := NewAPI(logger, manager).App()

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- app.Listen(":" + strconv.Itoa(command.Int("port")))
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down review worker")
	case err := <-serveErr:
		if err != nil {
			logger.Error("Review API stopped", "error", err)
		}
	}

	return shutdown(logger, app.ShutdownWithTimeout, manager, janitor)
}

func shutdown(
	logger *slog.Logger,
	stopAPI func(time.Duration) error,
	manager *services.Manager,
	janitor *resolver.Janitor,
) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error

	if err := stopAPI(shutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("stopping review API: %w", err))
	}

	janitor.Stop(ctx)

	if err := manager.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		logger.Error("Review worker did not stop cleanly", "error", err)
	}

	return err
}
