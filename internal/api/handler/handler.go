package handler

import (
	"context"
	"log/slog"

	"github.com/meetnote/meetnote-be/internal/stt/domain"
)

// STTService is the client-facing pipeline surface the handlers call.
type STTService interface {
	StartRecording(ctx context.Context, meetingID string) (string, error)
	AppendChunk(ctx context.Context, jobID string, data []byte, isFinal bool) error
	UploadAndTranscribe(ctx context.Context, meetingID string, data []byte) (string, error)
	RetryFromEncoded(ctx context.Context, jobID string) error
	GetStatus(ctx context.Context, jobID string) (*domain.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// Dependencies holds everything the handlers need
type Dependencies struct {
	Logger         *slog.Logger
	Service        STTService
	MaxUploadBytes int64
}

// STTHandler handles the STT job endpoints
type STTHandler struct {
	logger         *slog.Logger
	service        STTService
	maxUploadBytes int64
}

// NewSTTHandler creates an STT handler
func NewSTTHandler(deps *Dependencies) *STTHandler {
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 256 << 20
	}
	return &STTHandler{
		logger:         deps.Logger,
		service:        deps.Service,
		maxUploadBytes: maxUpload,
	}
}
