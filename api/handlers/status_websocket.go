package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/social-dl-go/internal/domain"
)

const (
	// DefaultPushInterval is how often session status is pushed
	DefaultPushInterval = 500 * time.Millisecond

	writeWait = 5 * time.Second
)

// StatusSource looks up session snapshots
type StatusSource interface {
	GetStatus(id string) (domain.DownloadSession, error)
}

// StatusWebSocketHandler pushes a session's status over a websocket until the
// session reaches a terminal state
type StatusWebSocketHandler struct {
	sessions StatusSource
	interval time.Duration
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStatusWebSocketHandler creates a handler pushing every interval.
// checkOrigin may be nil to accept every origin.
func NewStatusWebSocketHandler(sessions StatusSource, interval time.Duration, checkOrigin func(r *http.Request) bool, logger *zap.Logger) *StatusWebSocketHandler {
	if interval <= 0 {
		interval = DefaultPushInterval
	}
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &StatusWebSocketHandler{
		sessions: sessions,
		interval: interval,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		logger:   logger,
	}
}

// HandleWebSocket handles GET /api/v1/ws/:id
func (h *StatusWebSocketHandler) HandleWebSocket(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.sessions.GetStatus(id); err != nil {
		respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Debug("Status WebSocket connected",
		zap.String("session_id", id),
		zap.String("remote_addr", c.Request.RemoteAddr))

	// Read from the client only to notice it going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		session, err := h.sessions.GetStatus(id)
		if err != nil {
			h.write(conn, gin.H{"error": err.Error()})
			return
		}
		if !h.write(conn, session) {
			return
		}
		if session.State.IsTerminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(session.State)),
				time.Now().Add(writeWait))
			return
		}

		select {
		case <-ticker.C:
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *StatusWebSocketHandler) write(conn *websocket.Conn, v interface{}) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		h.logger.Debug("Status push failed", zap.Error(err))
		return false
	}
	return true
}
