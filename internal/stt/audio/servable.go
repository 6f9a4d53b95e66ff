package audio

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"
)

// ServableConfig holds servability check settings
type ServableConfig struct {
	BaseURL     string        // file-serving base URL
	MaxAttempts int           // HEAD attempts before giving up
	Interval    time.Duration // fixed sleep between attempts
	Timeout     time.Duration // per-request timeout
}

// ServableChecker verifies that an encoded file is actually retrievable from
// the file-serving path. File storage replicates asynchronously, so a freshly
// written file may 404 for a short while; the check polls with a fixed sleep.
type ServableChecker struct {
	config ServableConfig
	http   *http.Client
	logger *slog.Logger
}

// NewServableChecker creates a servability checker
func NewServableChecker(config ServableConfig, logger *slog.Logger) *ServableChecker {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.Interval <= 0 {
		config.Interval = 500 * time.Millisecond
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &ServableChecker{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

// ServingURL maps a local file reference to its public serving URL.
func (c *ServableChecker) ServingURL(fileRef string) string {
	return c.config.BaseURL + "/" + filepath.Base(fileRef)
}

// IsServable performs a single HEAD probe.
func (c *ServableChecker) IsServable(ctx context.Context, fileRef string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.ServingURL(fileRef), nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// WaitServable polls until the file serves or attempts run out.
func (c *ServableChecker) WaitServable(ctx context.Context, fileRef string) error {
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if c.IsServable(ctx, fileRef) {
			return nil
		}

		c.logger.Debug("Encoded file not yet servable",
			slog.String("file_ref", fileRef),
			slog.Int("attempt", attempt),
		)

		if attempt < c.config.MaxAttempts {
			select {
			case <-time.After(c.config.Interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("file %s not servable after %d attempts", fileRef, c.config.MaxAttempts)
}
