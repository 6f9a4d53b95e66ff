package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "meetnote", cfg.Database.Database)
				assert.Equal(t, "stt.events", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "stt.wake", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "stt.job.enqueued.*", cfg.RabbitMQ.BindingKey)
				assert.Equal(t, 30, cfg.Pipeline.PollMaxRetries)
				assert.Equal(t, 2*time.Minute, cfg.Pipeline.RecordingStaleAfter)
				assert.Equal(t, 2*time.Second, cfg.Pipeline.Stages.Processing.Interval)
				assert.Equal(t, 2*time.Minute, cfg.Pipeline.Stages.Processing.LockTTL)
				assert.Equal(t, 0.5, cfg.Pipeline.Provider.Breaker.FailureRate)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "meetnote",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "stt.events",
			},
			Queue: QueueConfig{
				Name: "stt.wake",
			},
		},
		Pipeline: PipelineConfig{
			FileServeBaseURL: "http://localhost:8081/files",
			Provider: ProviderConfig{
				BaseURL: "https://stt.example.com",
			},
		},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name: "invalid server port - too low",
			mutate: func(cfg *Config) {
				cfg.Server.Port = 0
			},
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name: "invalid server port - too high",
			mutate: func(cfg *Config) {
				cfg.Server.Port = 70000
			},
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name: "missing database host",
			mutate: func(cfg *Config) {
				cfg.Database.Host = ""
			},
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name: "missing redis host",
			mutate: func(cfg *Config) {
				cfg.Redis.Host = ""
			},
			wantErr:   true,
			errString: "redis host is required",
		},
		{
			name: "missing rabbitmq exchange",
			mutate: func(cfg *Config) {
				cfg.RabbitMQ.Exchange.Name = ""
			},
			wantErr:   true,
			errString: "exchange name is required",
		},
		{
			name: "missing provider base url",
			mutate: func(cfg *Config) {
				cfg.Pipeline.Provider.BaseURL = ""
			},
			wantErr:   true,
			errString: "provider base_url is required",
		},
		{
			name: "missing file serve base url",
			mutate: func(cfg *Config) {
				cfg.Pipeline.FileServeBaseURL = ""
			},
			wantErr:   true,
			errString: "file_serve_base_url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name: "missing provider base url",
			mutate: func(cfg *Config) {
				cfg.Pipeline.Provider.BaseURL = ""
			},
			wantErr:   true,
			errString: "provider base_url is required",
		},
		{
			name: "missing file serve base url",
			mutate: func(cfg *Config) {
				cfg.Pipeline.FileServeBaseURL = ""
			},
			wantErr:   true,
			errString: "file_serve_base_url is required",
		},
		{
			name: "negative poll retry ceiling",
			mutate: func(cfg *Config) {
				cfg.Pipeline.PollMaxRetries = -1
			},
			wantErr:   true,
			errString: "poll_max_retries must not be negative",
		},
		{
			name: "negative recording staleness",
			mutate: func(cfg *Config) {
				cfg.Pipeline.RecordingStaleAfter = -time.Minute
			},
			wantErr:   true,
			errString: "recording_stale_after must not be negative",
		},
		{
			name: "missing rabbitmq queue",
			mutate: func(cfg *Config) {
				cfg.RabbitMQ.Queue.Name = ""
			},
			wantErr:   true,
			errString: "queue name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
