package handlers

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/social-dl-go/internal/app"
	"github.com/yourusername/social-dl-go/internal/domain"
)

// DownloadHandler handles download-related HTTP requests
type DownloadHandler struct {
	downloads *app.DownloadManager
	batches   *app.BatchManager
	logger    *zap.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(downloads *app.DownloadManager, batches *app.BatchManager, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		downloads: downloads,
		batches:   batches,
		logger:    logger,
	}
}

// DownloadRequest represents a request for one video
type DownloadRequest struct {
	URL      string `json:"url" binding:"required"`
	Platform string `json:"platform,omitempty"`
	Quality  string `json:"quality,omitempty"`
}

// BatchDownloadRequest represents a request for several videos of one platform
type BatchDownloadRequest struct {
	URLs     []string `json:"urls" binding:"required"`
	Platform string   `json:"platform,omitempty"`
	Quality  string   `json:"quality,omitempty"`
}

// PlaylistRequest represents a request for a YouTube playlist
type PlaylistRequest struct {
	URL     string `json:"url" binding:"required"`
	Quality string `json:"quality,omitempty"`
}

// StartDownload handles POST /api/v1/download
func (h *DownloadHandler) StartDownload(c *gin.Context) {
	var req DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.downloads.CreateSession(req.URL, domain.Platform(req.Platform), domain.Quality(req.Quality))
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.downloads.StartSingleDownload(session.ID); err != nil {
		h.logger.Warn("Download not dispatched",
			zap.String("session_id", session.ID),
			zap.Error(err))
		_ = c.Error(err)
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "session_id": session.ID})
		return
	}

	c.JSON(http.StatusAccepted, session)
}

// StartBatch handles POST /api/v1/batch-download
func (h *DownloadHandler) StartBatch(c *gin.Context) {
	var req BatchDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.batches.StartBatchDownload(req.URLs, domain.Platform(req.Platform), domain.Quality(req.Quality))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, view)
}

// StartPlaylist handles POST /api/v1/youtube/playlist
func (h *DownloadHandler) StartPlaylist(c *gin.Context) {
	var req PlaylistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.batches.StartPlaylist(c.Request.Context(), req.URL, domain.Quality(req.Quality))
	if err != nil {
		h.logger.Warn("Playlist not started", zap.String("url", req.URL), zap.Error(err))
		if statusFor(err) == http.StatusInternalServerError {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, view)
}

// GetStatus handles GET /api/v1/status/:id
func (h *DownloadHandler) GetStatus(c *gin.Context) {
	session, err := h.downloads.GetStatus(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// GetBatch handles GET /api/v1/batch/:id
func (h *DownloadHandler) GetBatch(c *gin.Context) {
	view, err := h.batches.GetBatch(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetFile handles GET /api/v1/file/:id
func (h *DownloadHandler) GetFile(c *gin.Context) {
	id := c.Param("id")
	path, err := h.downloads.GetArtifactPath(id)
	if err != nil {
		respondError(c, err)
		return
	}

	// The sweeper may have removed the file since the lookup
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			respondError(c, domain.ErrArtifactExpired)
			return
		}
		respondError(c, err)
		return
	}

	session, _ := h.downloads.GetStatus(id)
	c.FileAttachment(path, session.Filename)
}

// ListSessions handles GET /api/v1/sessions
func (h *DownloadHandler) ListSessions(c *gin.Context) {
	filter := domain.SessionFilter{
		State:    domain.SessionState(c.Query("state")),
		Platform: domain.Platform(c.Query("platform")),
		BatchID:  c.Query("batch_id"),
	}
	if filter.State != "" && !domain.ValidateState(filter.State) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}
	if filter.Platform != "" && !domain.ValidatePlatform(filter.Platform) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid platform"})
		return
	}

	sessions := h.downloads.ListSessions(filter)
	c.JSON(http.StatusOK, gin.H{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// GetStats handles GET /api/v1/stats
func (h *DownloadHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.downloads.GetStats())
}

// CancelSession handles POST /api/v1/sessions/:id/cancel
func (h *DownloadHandler) CancelSession(c *gin.Context) {
	id := c.Param("id")

	session, err := h.downloads.Cancel(id)
	if err != nil {
		respondError(c, err)
		return
	}

	h.logger.Info("Session cancel requested", zap.String("session_id", id))
	c.JSON(http.StatusOK, session)
}
