package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_PublishBackoff(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   []time.Duration
	}{
		{
			name:   "defaults double from 100ms",
			config: Config{},
			want: []time.Duration{
				100 * time.Millisecond,
				200 * time.Millisecond,
				400 * time.Millisecond,
			},
		},
		{
			name: "configured multiplier is honored",
			config: Config{
				PublishRetryDelay:  50 * time.Millisecond,
				PublishBackoffMult: 3,
			},
			want: []time.Duration{
				50 * time.Millisecond,
				150 * time.Millisecond,
				450 * time.Millisecond,
			},
		},
		{
			name: "multiplier at or below 1 falls back to doubling",
			config: Config{
				PublishRetryDelay:  100 * time.Millisecond,
				PublishBackoffMult: 0.5,
			},
			want: []time.Duration{
				100 * time.Millisecond,
				200 * time.Millisecond,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{config: &tt.config, logger: testLogger()}
			for attempt, want := range tt.want {
				assert.Equal(t, want, c.publishBackoff(attempt))
			}
		})
	}
}

func TestClient_PublishRequiresConnection(t *testing.T) {
	c := &Client{config: &Config{}, logger: testLogger()}

	err := c.Publish(context.Background(), "stt.job.enqueued.encoding", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	err = c.PublishWithRetry(context.Background(), "stt.job.enqueued.encoding", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}
