package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/meetnote/meetnote-be/internal/config"
	"github.com/meetnote/meetnote-be/internal/stt/audio"
	"github.com/meetnote/meetnote-be/internal/stt/bus"
	"github.com/meetnote/meetnote-be/internal/stt/cache"
	"github.com/meetnote/meetnote-be/internal/stt/domain"
	"github.com/meetnote/meetnote-be/internal/stt/lock"
	"github.com/meetnote/meetnote-be/internal/stt/processor"
	"github.com/meetnote/meetnote-be/internal/stt/provider"
	"github.com/meetnote/meetnote-be/internal/stt/queue"
	"github.com/meetnote/meetnote-be/internal/stt/scheduler"
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
	defaultConfigPath := os.Getenv("STT_WORKER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/stt-worker/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting STT worker",
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

	// Wire the pipeline and its stage schedulers
	supervisor, err := buildPipeline(cfg, dbClient, redisClient, rabbitClient, appLogger.Logger)
	if err != nil {
		dbClient.Close()
		redisClient.Close()
		rabbitClient.Close()
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	supervisor.Start(ctx)

	// Consume wake events so fresh enqueues don't wait out a full tick
	consumer := bus.NewConsumer(rabbitClient, supervisor, appLogger.Logger)
	errChan := make(chan error, 1)
	go func() {
		if err := consumer.Run(ctx, "stt-worker"); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("STT worker started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Wake-event consumer error",
			slog.Any("error", err),
		)
	}

	// Cancel context to stop the consumer and stage loops
	cancel()

	// Give the schedulers time to finish in-flight batches
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		supervisor.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Stage schedulers stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Scheduler shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
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
	cleanup()

	appLogger.Info("STT worker shutdown complete")
	return nil
}

// buildPipeline wires the processor and one lock-gated scheduler per stage
func buildPipeline(
	cfg *config.Config,
	dbClient *postgresql.Client,
	redisClient *redis.Client,
	rabbitClient *rabbitmq.Client,
	logger *slog.Logger,
) (*scheduler.Supervisor, error) {
	jobStore := store.NewStore(dbClient.GetDB(), logger)

	snapshots := cache.NewSnapshotCache(redisClient.GetRDB(), &cache.Config{
		TransientTTL: cfg.Pipeline.SnapshotTTL.Transient,
		StableTTL:    cfg.Pipeline.SnapshotTTL.Stable,
	}, logger)

	queues := queue.NewManager(redisClient.GetRDB(), jobStore, &queue.Config{
		RetryTTL: cfg.Pipeline.RetryTTL,
		PurgeAge: cfg.Pipeline.QueuePurgeAge,
	}, logger)

	locks := lock.NewManager(redisClient.GetRDB(), "stt", logger)

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

	stageTasks := map[domain.Stage]struct {
		cfg  config.StageConfig
		task scheduler.Task
	}{
		domain.StageEncoding:    {cfg.Pipeline.Stages.Encoding, proc.ProcessEncoding},
		domain.StageProcessing:  {cfg.Pipeline.Stages.Processing, proc.ProcessTranscription},
		domain.StageSummarizing: {cfg.Pipeline.Stages.Summarizing, proc.ProcessSummarization},
		domain.StageRecording:   {cfg.Pipeline.Stages.Recording, proc.ProcessAbandonedRecording},
	}

	schedulers := make(map[domain.Stage]*scheduler.Scheduler, len(stageTasks))
	for stage, st := range stageTasks {
		schedulers[stage] = scheduler.NewScheduler(scheduler.Config{
			Stage:         stage,
			Interval:      st.cfg.Interval,
			BatchTimeout:  st.cfg.BatchTimeout,
			LockTTL:       st.cfg.LockTTL,
			MaxConcurrent: st.cfg.MaxConcurrent,
		}, locks, queues, st.task, logger)
	}

	return scheduler.NewSupervisor(schedulers, logger), nil
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
