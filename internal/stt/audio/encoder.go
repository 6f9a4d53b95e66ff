package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// EncoderConfig holds audio normalization settings
type EncoderConfig struct {
	BinaryPath string // ffmpeg binary, default "ffmpeg"
	SampleRate int    // default 16000
	Channels   int    // default 1
}

// FFmpegEncoder normalizes raw recorded/uploaded audio into the canonical
// serving format (AAC, fixed sample rate, mono) via an ffmpeg subprocess.
type FFmpegEncoder struct {
	config EncoderConfig
	logger *slog.Logger
}

// NewFFmpegEncoder creates an encoder
func NewFFmpegEncoder(config EncoderConfig, logger *slog.Logger) *FFmpegEncoder {
	if config.BinaryPath == "" {
		config.BinaryPath = "ffmpeg"
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.Channels <= 0 {
		config.Channels = 1
	}
	return &FFmpegEncoder{config: config, logger: logger}
}

// Encode transcodes the raw file reference and returns the encoded reference.
func (e *FFmpegEncoder) Encode(ctx context.Context, rawRef string) (string, error) {
	outRef := strings.TrimSuffix(rawRef, ".raw") + ".m4a"

	cmd := exec.CommandContext(ctx, e.config.BinaryPath,
		"-y",
		"-i", rawRef,
		"-ar", strconv.Itoa(e.config.SampleRate),
		"-ac", strconv.Itoa(e.config.Channels),
		"-c:a", "aac",
		outRef,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		e.logger.Error("ffmpeg encode failed",
			slog.String("input", rawRef),
			slog.String("output", tail(string(output), 500)),
			slog.Any("error", err),
		)
		return "", fmt.Errorf("ffmpeg encode of %s failed: %w", rawRef, err)
	}

	e.logger.Info("Audio encoded",
		slog.String("input", rawRef),
		slog.String("encoded", outRef),
	)
	return outRef, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
