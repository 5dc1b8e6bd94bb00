// Package httpapi exposes the transfer service over HTTP and WebSocket:
// JSON endpoints for the session lifecycle, a stream endpoint for the live
// relay, and a live endpoint for receiver-count observation.
package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/droplink/internal/common"
	"github.com/dmitrijs2005/droplink/internal/logging"
	"github.com/dmitrijs2005/droplink/internal/server/live"
	"github.com/dmitrijs2005/droplink/internal/server/models"
	"github.com/dmitrijs2005/droplink/internal/server/relay"
	"github.com/dmitrijs2005/droplink/internal/server/sessions"
)

// TransferService is the session-manager surface the handlers call.
// Satisfied by *sessions.Service.
type TransferService interface {
	CreateSession(ctx context.Context, fileSize *int64, mimeType *string) (*sessions.StartResult, error)
	JoinSession(ctx context.Context, code string, clientAddr string) (*sessions.JoinResult, error)
	IssueUploadTarget(ctx context.Context, code string, fileName string, fileSize int64, mimeType *string) (*sessions.UploadTarget, error)
	CompleteTransfer(ctx context.Context, code string, success bool) (*sessions.CompleteResult, error)
	IssueDownloadTarget(ctx context.Context, code string) (*sessions.DownloadTarget, error)
	TransferRecord(ctx context.Context, code string) (*models.TransferRecord, error)
}

type Handlers struct {
	svc      TransferService
	hub      *relay.Hub
	notifier *live.Notifier
	logger   logging.Logger
}

func NewHandlers(svc TransferService, hub *relay.Hub, notifier *live.Notifier, logger logging.Logger) *Handlers {
	return &Handlers{
		svc:      svc,
		hub:      hub,
		notifier: notifier,
		logger:   logger.With("module", "httpapi"),
	}
}

// NewRouter wires all routes onto a fresh gin engine.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")

	api.GET("/health", h.Health)

	transfers := api.Group("/transfers")
	{
		transfers.POST("/start", h.Start)
		transfers.POST("/join", h.Join)
		transfers.POST("/upload-url", h.UploadURL)
		transfers.POST("/complete", h.Complete)
		transfers.GET("/download-url", h.DownloadURL)
		transfers.GET("/record", h.Record)
		transfers.GET("/stream", h.Stream)
		transfers.GET("/live", h.Live)
	}

	return r
}

// respondError maps expected outcomes to their status hint and keeps
// everything else opaque.
func (h *Handlers) respondError(c *gin.Context, err error) {
	if appErr, ok := common.AsAppError(err); ok {
		c.JSON(appErr.StatusHint, gin.H{"error": appErr.Message, "code": string(appErr.Code)})
		return
	}

	h.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err.Error())
	c.JSON(500, gin.H{"error": "internal server error"})
}
