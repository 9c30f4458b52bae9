package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"story-server/internal/ai"
	"story-server/internal/config"
	"story-server/internal/logger"
	"story-server/internal/repository"
	"story-server/internal/worker"
)

const (
	connectAttempts = 10
	connectDelay    = 3 * time.Second
)

func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: "json"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zapLogger.Sync() }()
	log := zapLogger.Named("Worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := setupPostgres(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pool.Close()

	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, log)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()

	generator, err := ai.New(ai.Options{
		Provider:     cfg.AIProvider,
		BaseURL:      aiBaseURL(cfg),
		Model:        aiModel(cfg),
		APIKey:       cfg.OpenAIAPIKey,
		Timeout:      cfg.AITimeout,
		ProbeTimeout: cfg.AIProbeTimeout,
		Retry: ai.RetryPolicy{
			MaxAttempts: cfg.AIMaxAttempts,
			BaseDelay:   cfg.AIBaseRetryDelay,
			MaxDelay:    cfg.AIMaxRetryDelay,
		},
	}, zapLogger)
	if err != nil {
		log.Fatal("Failed to create text generation client", zap.Error(err))
	}

	storyRepo := repository.NewPgStoryRepository(pool, zapLogger)
	chapterRepo := repository.NewPgChapterRepository(pool, zapLogger)
	taskRepo := repository.NewPgTaskStatusRepository(pool, zapLogger)

	taskHandler := worker.NewTaskHandler(storyRepo, chapterRepo, taskRepo, generator, worker.Config{
		Retry: worker.RetryPolicy{
			MaxAttempts: cfg.TaskMaxAttempts,
			BaseDelay:   cfg.TaskBaseRetryDelay,
			MaxDelay:    cfg.TaskMaxRetryDelay,
		},
		SoftTimeLimit: cfg.TaskSoftTimeLimit,
	}, zapLogger)

	consumer := worker.NewConsumer(rabbitConn, taskHandler, cfg.TaskQueue, zapLogger)
	if err := consumer.Start(ctx); err != nil {
		log.Fatal("Failed to start consumer", zap.Error(err))
	}
	log.Info("Worker started", zap.String("queue", cfg.TaskQueue))

	metricsServer := startMetricsServer(cfg.MetricsPort, log)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down worker")
	cancel()
	if err := consumer.Stop(); err != nil {
		log.Error("Consumer shutdown failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Metrics server shutdown failed", zap.Error(err))
	}
	log.Info("Worker stopped")
}

// startMetricsServer exposes Prometheus metrics and a liveness probe.
func startMetricsServer(port string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		log.Info("Starting metrics server", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return server
}

func setupPostgres(ctx context.Context, cfg *config.Config, log *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	poolConfig.MaxConnIdleTime = cfg.DBIdleTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = pool.Ping(pingCtx)
		pingCancel()
		if err == nil {
			return pool, nil
		}
		log.Warn("PostgreSQL not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", connectAttempts),
			zap.Error(err))
		time.Sleep(connectDelay)
	}
	pool.Close()
	return nil, fmt.Errorf("failed to ping database after %d attempts: %w", connectAttempts, err)
}

func connectRabbitMQ(url string, log *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		log.Warn("RabbitMQ not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", connectAttempts),
			zap.Error(err))
		time.Sleep(connectDelay)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", connectAttempts, err)
}

func aiBaseURL(cfg *config.Config) string {
	if cfg.AIProvider == ai.ProviderOpenAI {
		return cfg.OpenAIBaseURL
	}
	return cfg.OllamaHost
}

func aiModel(cfg *config.Config) string {
	if cfg.AIProvider == ai.ProviderOpenAI {
		return cfg.OpenAIModel
	}
	return cfg.OllamaModel
}
