package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meetnote/meetnote-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "stt-api-service",
		})
	})

	sttHandler := handler.NewSTTHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		stt := v1.Group("/stt")
		{
			// POST /api/v1/stt/recordings - Start a recording session
			stt.POST("/recordings", sttHandler.StartRecording)

			// POST /api/v1/stt/uploads - Upload a complete file for transcription
			stt.POST("/uploads", sttHandler.Upload)

			jobs := stt.Group("/jobs")
			{
				// POST /api/v1/stt/jobs/:job_id/chunks - Append an audio chunk
				jobs.POST("/:job_id/chunks", sttHandler.AppendChunk)

				// POST /api/v1/stt/jobs/:job_id/retry - Retry from ENCODED
				jobs.POST("/:job_id/retry", sttHandler.Retry)

				// GET /api/v1/stt/jobs/:job_id - Get the job snapshot
				jobs.GET("/:job_id", sttHandler.GetStatus)

				// DELETE /api/v1/stt/jobs/:job_id - Delete the job
				jobs.DELETE("/:job_id", sttHandler.Delete)
			}
		}
	}

	return r
}
