package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"story-server/internal/ai"
	"story-server/internal/config"
	"story-server/internal/handler"
	"story-server/internal/logger"
	"story-server/internal/messaging"
	"story-server/internal/repository"
	"story-server/internal/service"
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
	log := zapLogger.Named("Server")

	ctx := context.Background()

	pool, err := setupPostgres(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, log)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()

	publisher, err := messaging.NewRabbitMQTaskPublisher(rabbitConn, cfg.TaskQueue)
	if err != nil {
		log.Fatal("Failed to create task publisher", zap.Error(err))
	}
	defer publisher.Close()

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
	locker := repository.NewRedisGenerationLock(redisClient, cfg.GenerationLockTTL, zapLogger)

	storyService := service.NewStoryService(storyRepo, chapterRepo, taskRepo, publisher, locker, zapLogger)
	storyHandler := handler.NewStoryHandler(storyService, generator, zapLogger)

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.RequestLogger(zapLogger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.GetAllowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-User-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	prom := ginprometheus.NewPrometheus("gin")
	prom.Use(router)

	storyHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	log.Info("Server stopped")
}

// setupPostgres builds the pgx pool, retrying the initial ping so the
// server survives the database starting a few seconds after it does.
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
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = pool.Ping(pingCtx)
		cancel()
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

// connectRabbitMQ dials the broker with the same startup retry loop.
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
