package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/meetnote/meetnote-be/internal/api/handler"
	"github.com/meetnote/meetnote-be/internal/api/router"
	"github.com/meetnote/meetnote-be/internal/config"
	"github.com/meetnote/meetnote-be/internal/stt/audio"
	"github.com/meetnote/meetnote-be/internal/stt/bus"
	"github.com/meetnote/meetnote-be/internal/stt/cache"
	"github.com/meetnote/meetnote-be/internal/stt/processor"
	"github.com/meetnote/meetnote-be/internal/stt/provider"
	"github.com/meetnote/meetnote-be/internal/stt/queue"
	"github.com/meetnote/meetnote-be/internal/stt/service"
	"github.com/meetnote/meetnote-be/internal/stt/store"
	"github.com/meetnote/meetnote-be/shared/logger"
	"github.com/meetnote/meetnote-be/shared/postgresql"
	"github.com/meetnote/meetnote-be/shared/rabbitmq"
	"github.com/meetnote/meetnote-be/shared/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize Redis client
	redisClient, err := initRedis(&cfg.Redis, appLogger.Logger)
	if err != nil {
		dbClient.Close()
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	appLogger.Info("Redis connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		dbClient.Close()
		redisClient.Close()
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Build the pipeline service behind the handlers
	sttService, err := buildService(cfg, dbClient, redisClient, rabbitClient, appLogger.Logger)
	if err != nil {
		dbClient.Close()
		redisClient.Close()
		rabbitClient.Close()
		return fmt.Errorf("failed to build STT service: %w", err)
	}

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, sttService)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	// Cleanup function to close all resources
	cleanup := func() {
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
		if redisClient != nil {
			redisClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// buildService wires the job store, snapshot cache, work queues, audio
// handling, and provider client into the client-facing STT service
func buildService(
	cfg *config.Config,
	dbClient *postgresql.Client,
	redisClient *redis.Client,
	rabbitClient *rabbitmq.Client,
	logger *slog.Logger,
) (*service.Service, error) {
	jobStore := store.NewStore(dbClient.GetDB(), logger)

	snapshots := cache.NewSnapshotCache(redisClient.GetRDB(), &cache.Config{
		TransientTTL: cfg.Pipeline.SnapshotTTL.Transient,
		StableTTL:    cfg.Pipeline.SnapshotTTL.Stable,
	}, logger)

	queues := queue.NewManager(redisClient.GetRDB(), jobStore, &queue.Config{
		RetryTTL: cfg.Pipeline.RetryTTL,
		PurgeAge: cfg.Pipeline.QueuePurgeAge,
	}, logger)

	chunks, err := audio.NewChunkStore(cfg.Pipeline.AudioDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio dir: %w", err)
	}

	encoder := audio.NewFFmpegEncoder(audio.EncoderConfig{
		BinaryPath: cfg.Pipeline.Encoder.BinaryPath,
		SampleRate: cfg.Pipeline.Encoder.SampleRate,
		Channels:   cfg.Pipeline.Encoder.Channels,
	}, logger)

	servable := audio.NewServableChecker(audio.ServableConfig{
		BaseURL:     cfg.Pipeline.FileServeBaseURL,
		MaxAttempts: cfg.Pipeline.Servable.MaxAttempts,
		Interval:    cfg.Pipeline.Servable.Interval,
		Timeout:     cfg.Pipeline.Servable.Timeout,
	}, logger)

	providerClient := provider.NewClient(&provider.Config{
		BaseURL:        cfg.Pipeline.Provider.BaseURL,
		APIKey:         cfg.Pipeline.Provider.APIKey,
		RequestTimeout: cfg.Pipeline.Provider.RequestTimeout,
		MaxRetries:     cfg.Pipeline.Provider.MaxRetries,
		RetryBaseDelay: cfg.Pipeline.Provider.RetryBaseDelay,
		RetryMaxDelay:  cfg.Pipeline.Provider.RetryMaxDelay,
		Breaker: provider.BreakerConfig{
			Window:      cfg.Pipeline.Provider.Breaker.Window,
			MinSamples:  cfg.Pipeline.Provider.Breaker.MinSamples,
			FailureRate: cfg.Pipeline.Provider.Breaker.FailureRate,
			Cooldown:    cfg.Pipeline.Provider.Breaker.Cooldown,
		},
	}, logger)

	events := bus.NewPublisher(rabbitClient, logger)

	proc := processor.NewProcessor(snapshots, queues, jobStore, providerClient, encoder, servable, events, processor.Config{
		EncodingMaxRetries:  cfg.Pipeline.EncodingMaxRetries,
		PollMaxRetries:      cfg.Pipeline.PollMaxRetries,
		RecordingStaleAfter: cfg.Pipeline.RecordingStaleAfter,
	}, logger)

	return service.NewService(snapshots, queues, jobStore, chunks, proc, logger), nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRedis initializes the Redis client
func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	redisConfig := &redis.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}

	return redis.NewClient(redisConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		BindingKey:         cfg.BindingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, sttService *service.Service) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:         logger,
		Service:        sttService,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
