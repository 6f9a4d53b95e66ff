package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// RabbitMQConfig holds RabbitMQ connection and topology configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	BindingKey string           `yaml:"binding_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name    string `yaml:"name"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// PipelineConfig holds STT pipeline tuning
type PipelineConfig struct {
	AudioDir            string          `yaml:"audio_dir"`
	FileServeBaseURL    string          `yaml:"file_serve_base_url"`
	SnapshotTTL         SnapshotTTL     `yaml:"snapshot_ttl"`
	RetryTTL            time.Duration   `yaml:"retry_ttl"`
	QueuePurgeAge       time.Duration   `yaml:"queue_purge_age"`
	EncodingMaxRetries  int             `yaml:"encoding_max_retries"`
	PollMaxRetries      int             `yaml:"poll_max_retries"`
	RecordingStaleAfter time.Duration   `yaml:"recording_stale_after"`
	Stages              StageConfigs    `yaml:"stages"`
	Encoder             EncoderConfig   `yaml:"encoder"`
	Servable            ServableConfig  `yaml:"servable"`
	Provider            ProviderConfig  `yaml:"provider"`
}

// SnapshotTTL holds stage-dependent snapshot lifetimes
type SnapshotTTL struct {
	Transient time.Duration `yaml:"transient"`
	Stable    time.Duration `yaml:"stable"`
}

// StageConfigs holds per-stage scheduler tuning
type StageConfigs struct {
	Encoding    StageConfig `yaml:"encoding"`
	Processing  StageConfig `yaml:"processing"`
	Summarizing StageConfig `yaml:"summarizing"`
	Recording   StageConfig `yaml:"recording"`
}

// StageConfig holds one stage's loop parameters
type StageConfig struct {
	Interval      time.Duration `yaml:"interval"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// EncoderConfig holds audio normalization settings
type EncoderConfig struct {
	BinaryPath string `yaml:"binary_path"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

// ServableConfig holds file servability check settings
type ServableConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ProviderConfig holds external STT provider settings
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings
type BreakerConfig struct {
	Window      time.Duration `yaml:"window"`
	MinSamples  int           `yaml:"min_samples"`
	FailureRate float64       `yaml:"failure_rate"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the fields the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	if err := c.validateShared(); err != nil {
		return err
	}

	// The API process reaches the provider too: retry re-dispatch and upload
	// auto-start both go through the pipeline processor.
	if c.Pipeline.Provider.BaseURL == "" {
		return fmt.Errorf("provider base_url is required")
	}
	if c.Pipeline.FileServeBaseURL == "" {
		return fmt.Errorf("file_serve_base_url is required")
	}

	return nil
}

// ValidateWorkerConfig checks the fields the pipeline worker depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Pipeline.Provider.BaseURL == "" {
		return fmt.Errorf("provider base_url is required")
	}
	if c.Pipeline.FileServeBaseURL == "" {
		return fmt.Errorf("file_serve_base_url is required")
	}
	if c.Pipeline.PollMaxRetries < 0 {
		return fmt.Errorf("poll_max_retries must not be negative")
	}
	if c.Pipeline.RecordingStaleAfter < 0 {
		return fmt.Errorf("recording_stale_after must not be negative")
	}

	return nil
}

func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
		return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}
	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}
	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
