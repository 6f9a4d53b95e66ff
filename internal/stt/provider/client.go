package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/meetnote/meetnote-be/internal/stt/domain"
)

// Config holds provider client configuration
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	MaxRetries     int           // transient retries per call
	RetryBaseDelay time.Duration // first backoff step
	RetryMaxDelay  time.Duration // backoff cap
	Breaker        BreakerConfig
}

// TranscriptionStatus is one poll result for an in-flight transcription.
type TranscriptionStatus struct {
	Completed bool   `json:"completed"`
	Text      string `json:"text"`
	Progress  int    `json:"progress"`
}

// SummaryStatus is one poll result for an in-flight summarization.
type SummaryStatus struct {
	Completed bool   `json:"completed"`
	Summary   string `json:"summary"`
	Progress  int    `json:"progress"`
}

// Client wraps the external transcription/summarization API behind a circuit
// breaker and bounded retry with jittered exponential backoff. The provider is
// slow and async: every request returns an opaque handle ("rid") that the
// pipeline polls until completion.
type Client struct {
	config  *Config
	http    *http.Client
	breaker *Breaker
	logger  *slog.Logger
}

// NewClient creates a provider client
func NewClient(config *Config, logger *slog.Logger) *Client {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 15 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 200 * time.Millisecond
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = 5 * time.Second
	}
	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.RequestTimeout},
		breaker: NewBreaker(config.Breaker, logger),
		logger:  logger,
	}
}

// CircuitOpen reports whether the breaker is refusing calls right now, letting
// processors skip a tick cheaply without attempting the request.
func (c *Client) CircuitOpen() bool {
	return c.breaker.Open()
}

// RequestTranscription submits the encoded audio and returns the provider's
// request handle.
func (c *Client) RequestTranscription(ctx context.Context, audioURL string) (string, error) {
	var resp struct {
		RequestID string `json:"request_id"`
	}
	err := c.call(ctx, http.MethodPost, "/v1/transcriptions", map[string]string{"audio_url": audioURL}, &resp)
	if err != nil {
		return "", err
	}
	if resp.RequestID == "" {
		return "", domain.NewUnrecoverableError(errors.New("provider returned empty transcription request id"))
	}
	return resp.RequestID, nil
}

// PollTranscription fetches the current state of a transcription request.
func (c *Client) PollTranscription(ctx context.Context, requestID string) (*TranscriptionStatus, error) {
	var status TranscriptionStatus
	if err := c.call(ctx, http.MethodGet, "/v1/transcriptions/"+requestID, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RequestSummarization submits transcript text and returns the summary handle.
func (c *Client) RequestSummarization(ctx context.Context, text string) (string, error) {
	var resp struct {
		RequestID string `json:"request_id"`
	}
	err := c.call(ctx, http.MethodPost, "/v1/summaries", map[string]string{"text": text}, &resp)
	if err != nil {
		return "", err
	}
	if resp.RequestID == "" {
		return "", domain.NewUnrecoverableError(errors.New("provider returned empty summary request id"))
	}
	return resp.RequestID, nil
}

// PollSummarization fetches the current state of a summarization request.
func (c *Client) PollSummarization(ctx context.Context, requestID string) (*SummaryStatus, error) {
	var status SummaryStatus
	if err := c.call(ctx, http.MethodGet, "/v1/summaries/"+requestID, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// call runs one logical provider request: breaker gate, bounded retries with
// jittered exponential backoff on transient failures, typed errors on 4xx.
func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	if !c.breaker.Allow() {
		return domain.ErrCircuitOpen
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.logger.Debug("Retrying provider call",
				slog.String("path", path),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				c.breaker.Record(false)
				return ctx.Err()
			}
		}

		err := c.do(ctx, method, path, body, out)
		if err == nil {
			c.breaker.Record(true)
			return nil
		}
		lastErr = err

		// 4xx responses are caller faults; retrying cannot help.
		var clientErr *ClientError
		if errors.As(err, &clientErr) {
			break
		}
	}

	c.breaker.Record(false)
	return lastErr
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return classifyStatus(resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
	}
	return nil
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.config.RetryBaseDelay << uint(attempt-1)
	if delay > c.config.RetryMaxDelay {
		delay = c.config.RetryMaxDelay
	}
	// Full jitter keeps concurrent pollers from hammering in lockstep.
	return time.Duration(rand.Int63n(int64(delay)) + int64(delay)/2)
}
