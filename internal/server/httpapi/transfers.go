package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/droplink/internal/common"
)

type startRequest struct {
	FileSize *int64  `json:"fileSize"`
	MimeType *string `json:"mimeType"`
}

type joinRequest struct {
	TransferCode string `json:"transferCode"`
}

type uploadURLRequest struct {
	TransferCode string  `json:"transferCode"`
	FileName     string  `json:"fileName"`
	FileSize     int64   `json:"fileSize"`
	MimeType     *string `json:"mimeType"`
}

type completeRequest struct {
	TransferCode string `json:"transferCode"`
	Success      bool   `json:"success"`
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// clientIP extracts the client address for rate limiting. Proxied setups put
// the original address into X-Forwarded-For; direct connections fall back to
// the socket peer. An empty result bypasses rate limiting.
func clientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
	}
	if realIP := c.GetHeader("X-Real-IP"); realIP != "" {
		return realIP
	}
	return c.ClientIP()
}

func (h *Handlers) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, common.NewAppError(common.CodeInvalidInput, "invalid request body", 400))
		return
	}

	res, err := h.svc.CreateSession(c.Request.Context(), req.FileSize, req.MimeType)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"transferCode": res.TransferCode,
		"expiresAt":    res.ExpiresAt,
	})
}

func (h *Handlers) Join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, common.NewAppError(common.CodeInvalidInput, "invalid request body", 400))
		return
	}

	res, err := h.svc.JoinSession(c.Request.Context(), req.TransferCode, clientIP(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transferCode":  res.TransferCode,
		"receiverId":    res.ReceiverID,
		"receiverCount": res.ReceiverCount,
	})
}

func (h *Handlers) UploadURL(c *gin.Context) {
	var req uploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, common.NewAppError(common.CodeInvalidInput, "invalid request body", 400))
		return
	}

	res, err := h.svc.IssueUploadTarget(c.Request.Context(), req.TransferCode, req.FileName, req.FileSize, req.MimeType)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"uploadUrl":  res.UploadURL,
		"storageKey": res.StorageKey,
		"expiresAt":  res.ExpiresAt,
	})
}

func (h *Handlers) Complete(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, common.NewAppError(common.CodeInvalidInput, "invalid request body", 400))
		return
	}

	res, err := h.svc.CompleteTransfer(c.Request.Context(), req.TransferCode, req.Success)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transferCode":  res.TransferCode,
		"status":        res.Status,
		"receiverCount": res.ReceiverCount,
	})
}

// Record serves the durable audit row for a code; it answers for completed
// and expired transfers the live session endpoints no longer know about.
func (h *Handlers) Record(c *gin.Context) {
	rec, err := h.svc.TransferRecord(c.Request.Context(), c.Query("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := gin.H{
		"transferCode":  rec.TransferCode,
		"status":        rec.Status,
		"receiverCount": rec.ReceiverCount,
		"fileSize":      rec.FileSize,
		"createdAt":     rec.CreatedAt.UnixMilli(),
		"duration":      rec.Duration,
	}
	if rec.CompletedAt != nil {
		resp["completedAt"] = rec.CompletedAt.UnixMilli()
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) DownloadURL(c *gin.Context) {
	res, err := h.svc.IssueDownloadTarget(c.Request.Context(), c.Query("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"downloadUrl": res.DownloadURL,
		"expiresAt":   res.ExpiresAt,
	})
}
