package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// Client represents a Redis client
type Client struct {
	rdb    *redis.Client
	config *Config
	logger *slog.Logger
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolSize:     config.PoolSize,
	})

	logger.Info("Connecting to Redis",
		slog.String("host", config.Host),
		slog.Int("port", config.Port),
		slog.Int("db", config.DB),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to ping Redis",
			slog.Any("error", err),
		)
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	logger.Info("Successfully connected to Redis")

	return &Client{
		rdb:    rdb,
		config: config,
		logger: logger,
	}, nil
}

// GetRDB returns the underlying go-redis client
func (c *Client) GetRDB() *redis.Client {
	return c.rdb
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// HealthCheck performs a health check against Redis
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")

	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			c.logger.Error("Failed to close Redis connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("Redis connection closed successfully")
	return nil
}
