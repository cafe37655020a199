package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"fleet-telemetry-pipeline/internal/consume"
	"fleet-telemetry-pipeline/internal/dispatch"
	"fleet-telemetry-pipeline/internal/history"
	"fleet-telemetry-pipeline/internal/ingest"
	"fleet-telemetry-pipeline/internal/state"
	"fleet-telemetry-pipeline/shared/cachex"
	"fleet-telemetry-pipeline/shared/config"
	"fleet-telemetry-pipeline/shared/dbx"
	"fleet-telemetry-pipeline/shared/httpx"
	"fleet-telemetry-pipeline/shared/influxx"
	"fleet-telemetry-pipeline/shared/logx"
	"fleet-telemetry-pipeline/shared/metricsx"
	"fleet-telemetry-pipeline/shared/mqx"
	"fleet-telemetry-pipeline/shared/observability"
)

func main() {
	cfg, problems := config.Load("telemetry-ingestor", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
	}
	if cfg.RedisAddr == "" {
		problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: "REDIS_ADDR is required"})
	}
	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
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

	metricsx.Register()

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	redisClient, err := cachex.New(cfg)
	if err != nil {
		logger.Error(context.Background(), "redis_init_failed", "redis init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer redisClient.Close()

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer producer.Close()

	asynqAddr := cfg.AsynqRedisAddr
	if asynqAddr == "" {
		asynqAddr = cfg.RedisAddr
	}
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     asynqAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	})
	defer asynqClient.Close()

	var mirror ingest.LocationMirror
	if cfg.InfluxEnabled {
		influxClient, err := influxx.New(cfg)
		if err != nil {
			logger.Error(context.Background(), "influx_init_failed", "influx init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		defer influxClient.Close()
		mirror = ingest.NewInfluxMirror(influxClient)
	}

	cacheTimeout := time.Duration(cfg.CacheTimeoutMS) * time.Millisecond
	stateCache := state.NewRedisCache(redisClient, cfg.CacheTTL, cacheTimeout)
	store := history.NewPostgresStore(dbPool)
	dispatcher := dispatch.New(logger, asynqClient, producer, cfg.TopicAlerts, cfg.AsynqQueue)
	pipeline := ingest.NewPipeline(logger, stateCache, store, dispatcher, mirror)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streams := []struct {
		name    string
		topic   string
		handler consume.Handler
	}{
		{name: "location", topic: cfg.TopicLocation, handler: pipeline.HandleLocation},
		{name: "status", topic: cfg.TopicStatus, handler: pipeline.HandleStatus},
		{name: "event", topic: cfg.TopicEvent, handler: pipeline.HandleEvent},
	}

	consumers := make([]*consume.Consumer, 0, len(streams))
	for _, s := range streams {
		reader, err := mqx.NewReader(cfg, s.topic)
		if err != nil {
			logger.Error(ctx, "kafka_init_failed", "kafka reader init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("stream", s.name),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		topic := s.topic
		dial := func(dialCtx context.Context) error {
			return mqx.CheckTopic(dialCtx, cfg.KafkaBrokers, topic)
		}
		c := consume.New(s.name, cfg.KafkaGroupID, logger, reader, s.handler, dial,
			cfg.ConnectRetryMax, cfg.ConnectRetryInterval)
		if err := c.Start(ctx); err != nil {
			if errors.Is(err, consume.ErrDegraded) {
				// The other streams keep running.
				continue
			}
			logger.Error(ctx, "consumer_start_failed", "consumer start failed",
				slog.String("stream", s.name),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		consumers = append(consumers, c)
	}

	opsServer := newOpsServer(cfg, logger, dbPool, redisClient)
	go func() {
		logger.Info(ctx, "ops_server_start", "ops server listening",
			slog.Int("port", cfg.HTTPPort),
		)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "ops_server_failed", "ops server failed",
				slog.String("error", err.Error()),
			)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info(ctx, "shutdown_signal", "received signal", slog.String("signal", sig.String()))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	var wg sync.WaitGroup
	for _, c := range consumers {
		wg.Add(1)
		go func(c *consume.Consumer) {
			defer wg.Done()
			if err := c.Stop(stopCtx); err != nil {
				logger.Warn(stopCtx, "consumer_stop_failed", "consumer did not stop cleanly",
					slog.String("error", err.Error()),
				)
			}
		}(c)
	}
	wg.Wait()

	_ = opsServer.Shutdown(stopCtx)
	logger.Info(context.Background(), "ingestor_stop", "ingestor stopped")
}

func newOpsServer(cfg config.Config, logger logx.Logger, dbPool *pgxpool.Pool, redisClient *redis.Client) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsx.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{"redis": "ok", "postgres": "ok"}
		healthy := true
		if err := dbx.Ping(checkCtx, dbPool); err != nil {
			status["postgres"] = err.Error()
			healthy = false
		}
		if err := cachex.Ping(checkCtx, redisClient); err != nil {
			status["redis"] = err.Error()
			healthy = false
		}
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		httpx.WriteJSON(w, code, status)
	})

	handler := httpx.WithRequestID(
		httpx.WithRecover(logger,
			httpx.WithRequestLog(logger, httpx.RequestLogOptions{
				SkipPaths: map[string]bool{"/metrics": true, "/healthz": true},
			}, mux),
		),
	)
	return &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.HTTPPort),
		Handler: handler,
	}
}
