package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meetnote/meetnote-be/internal/api/dto"
	"github.com/meetnote/meetnote-be/internal/stt/domain"
)

// StartRecording handles POST /api/v1/stt/recordings
// Creates a RECORDING job for a meeting and returns the job ID
func (h *STTHandler) StartRecording(c *gin.Context) {
	var req dto.StartRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobID, err := h.service.StartRecording(c.Request.Context(), req.MeetingID)
	if err != nil {
		h.logger.Error("Failed to start recording", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to start recording",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.JobCreatedResponse{JobID: jobID})
}

// AppendChunk handles POST /api/v1/stt/jobs/:job_id/chunks
// Appends one raw audio chunk; ?final=true finishes the recording
func (h *STTHandler) AppendChunk(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxUploadBytes))
	if err != nil {
		h.logger.Error("Failed to read chunk body",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read chunk body",
		})
		return
	}

	isFinal := c.Query("final") == "true"

	if err := h.service.AppendChunk(c.Request.Context(), jobID, data, isFinal); err != nil {
		h.writeServiceError(c, jobID, "Failed to append chunk", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"final":  isFinal,
	})
}

// Upload handles POST /api/v1/stt/uploads
// Accepts a complete audio file and starts the full pipeline for it
func (h *STTHandler) Upload(c *gin.Context) {
	meetingID := c.PostForm("meeting_id")
	if meetingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "meeting_id is required",
		})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "audio file is required",
		})
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "audio file too large",
		})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open uploaded file", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read uploaded file",
		})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		h.logger.Error("Failed to read uploaded file", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read uploaded file",
		})
		return
	}

	jobID, err := h.service.UploadAndTranscribe(c.Request.Context(), meetingID, data)
	if err != nil {
		h.logger.Error("Failed to accept upload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to accept upload",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.JobCreatedResponse{JobID: jobID})
}

// Retry handles POST /api/v1/stt/jobs/:job_id/retry
// Restarts transcription for a job parked at ENCODED
func (h *STTHandler) Retry(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	if err := h.service.RetryFromEncoded(c.Request.Context(), jobID); err != nil {
		h.writeServiceError(c, jobID, "Failed to retry job", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
	})
}

// GetStatus handles GET /api/v1/stt/jobs/:job_id
// Returns the current job snapshot
func (h *STTHandler) GetStatus(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.service.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		h.writeServiceError(c, jobID, "Failed to get job status", err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// Delete handles DELETE /api/v1/stt/jobs/:job_id
// Removes the job record, queue memberships, snapshot, and audio
func (h *STTHandler) Delete(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteJob(c.Request.Context(), jobID); err != nil {
		h.writeServiceError(c, jobID, "Failed to delete job", err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *STTHandler) jobID(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

func (h *STTHandler) writeServiceError(c *gin.Context, jobID, msg string, err error) {
	var stateErr *domain.InvalidStateError

	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "job not found",
		})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":  "job is not in a state that allows this operation",
			"status": string(stateErr.From),
		})
	default:
		h.logger.Error(msg,
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": msg,
		})
	}
}
