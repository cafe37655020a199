package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"

	"fleet-telemetry-pipeline/internal/dispatch"
	"fleet-telemetry-pipeline/shared/clients/maintenance"
	"fleet-telemetry-pipeline/shared/config"
	"fleet-telemetry-pipeline/shared/logx"
	"fleet-telemetry-pipeline/shared/observability"
)

func main() {
	cfg, problems := config.Load("notify-worker", 8081)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.MaintenanceURL == "" {
		problems = append(problems, config.Problem{Field: "MAINTENANCE_NOTIFY_URL", Message: "MAINTENANCE_NOTIFY_URL is required"})
	}
	asynqAddr := cfg.AsynqRedisAddr
	if asynqAddr == "" {
		asynqAddr = cfg.RedisAddr
	}
	if asynqAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR or REDIS_ADDR is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	client, err := maintenance.New(cfg)
	if err != nil {
		logger.Error(context.Background(), "maintenance_init_failed", "maintenance client init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     asynqAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	mux := asynq.NewServeMux()
	mux.HandleFunc(dispatch.TaskMaintenanceNotify, dispatch.HandleMaintenanceNotify(logger, client))

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "worker_start", "notify worker started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("concurrency", cfg.AsynqConcurrency),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, asynq.ErrServerClosed) {
			logger.Error(context.Background(), "worker_failed", "worker failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	logger.Info(context.Background(), "worker_stop", "notify worker stopped")
}
