package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/social-dl-go/api/handlers"
	"github.com/yourusername/social-dl-go/api/middleware"
	"github.com/yourusername/social-dl-go/internal/app"
	"github.com/yourusername/social-dl-go/internal/domain"
	"github.com/yourusername/social-dl-go/pkg/logger"
)

// Services are the application components the router exposes
type Services struct {
	Downloads *app.DownloadManager
	Batches   *app.BatchManager
	Pool      *app.WorkerPool
	Sweeper   *app.Sweeper
	History   domain.HistoryRepository // nil when history is disabled
}

// SetupRouter builds the HTTP router
func SetupRouter(config *domain.Config, services Services, logAdapter *logger.LoggerAdapter) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logAdapter))
	router.Use(middleware.Recovery(logAdapter))
	router.Use(middleware.CORS(config.CORS, config.Security.HeaderName))
	router.Use(middleware.APIKey(config.Security, "/health", "/ready"))
	if config.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(config.RateLimit)
		router.Use(limiter.Middleware())
	}

	healthHandler := handlers.NewHealthHandler(map[string]handlers.Runner{
		"worker_pool": services.Pool,
		"sweeper":     services.Sweeper,
	})
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	general := logAdapter.General()
	downloadHandler := handlers.NewDownloadHandler(services.Downloads, services.Batches, general)
	wsHandler := handlers.NewStatusWebSocketHandler(services.Downloads, handlers.DefaultPushInterval,
		originChecker(config.CORS), general)
	historyHandler := handlers.NewHistoryHandler(services.History, general)
	logHandler := handlers.NewLogHandler(config.Logging.LogsDir)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/download", downloadHandler.StartDownload)
		v1.POST("/batch-download", downloadHandler.StartBatch)
		v1.POST("/youtube/playlist", downloadHandler.StartPlaylist)

		v1.GET("/status/:id", downloadHandler.GetStatus)
		v1.GET("/batch/:id", downloadHandler.GetBatch)
		v1.GET("/file/:id", downloadHandler.GetFile)
		v1.GET("/ws/:id", wsHandler.HandleWebSocket)

		v1.GET("/sessions", downloadHandler.ListSessions)
		v1.POST("/sessions/:id/cancel", downloadHandler.CancelSession)
		v1.GET("/stats", downloadHandler.GetStats)

		history := v1.Group("/history")
		{
			history.GET("", historyHandler.ListHistory)
			history.GET("/stats", historyHandler.GetHistoryStats)
		}

		logs := v1.Group("/logs")
		{
			logs.GET("/categories", logHandler.GetCategories)
			logs.GET("/:category", logHandler.GetLogs)
			logs.GET("/:category/search", logHandler.SearchLogs)
			logs.GET("/:category/export", logHandler.ExportLogs)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}

// originChecker applies the CORS origin list to websocket upgrades. Requests
// without an Origin header (non-browser clients) are accepted.
func originChecker(config domain.CORSConfig) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range config.AllowedOrigins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
