package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/social-dl-go/pkg/logger"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// LogHandler serves the categorized log files
type LogHandler struct {
	logReader *logger.LogReader
	now       func() time.Time
}

// NewLogHandler creates a new log handler
func NewLogHandler(logsDir string) *LogHandler {
	return &LogHandler{
		logReader: logger.NewLogReader(logsDir),
		now:       time.Now,
	}
}

// GetCategories handles GET /api/v1/logs/categories
func (h *LogHandler) GetCategories(c *gin.Context) {
	categories := make([]string, 0, len(logger.AllCategories))
	for _, cat := range logger.AllCategories {
		categories = append(categories, string(cat))
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

// GetLogs handles GET /api/v1/logs/:category
func (h *LogHandler) GetLogs(c *gin.Context) {
	h.serveEntries(c, "")
}

// SearchLogs handles GET /api/v1/logs/:category/search?q=
func (h *LogHandler) SearchLogs(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' is required"})
		return
	}
	h.serveEntries(c, query)
}

// serveEntries answers with the newest entries of one category and day,
// filtered by query when it is not empty
func (h *LogHandler) serveEntries(c *gin.Context, query string) {
	category, date, ok := h.parseParams(c)
	if !ok {
		return
	}
	limit := parseLimit(c.Query("limit"), defaultLogLimit, maxLogLimit)

	var (
		entries []logger.LogEntry
		err     error
	)
	if query == "" {
		entries, err = h.logReader.ReadLogs(category, date, limit)
	} else {
		entries, err = h.logReader.SearchLogs(category, date, query, limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read logs"})
		return
	}

	body := gin.H{
		"category": category,
		"date":     date.Format(time.DateOnly),
		"count":    len(entries),
		"entries":  entries,
	}
	if query != "" {
		body["query"] = query
	}
	c.JSON(http.StatusOK, body)
}

// ExportLogs handles GET /api/v1/logs/:category/export
func (h *LogHandler) ExportLogs(c *gin.Context) {
	category, date, ok := h.parseParams(c)
	if !ok {
		return
	}

	filename := string(category) + "-" + date.Format("20060102") + ".log"
	c.FileAttachment(h.logReader.GetLogPath(category, date), filename)
}

// parseParams validates :category and the optional date query (YYYY-MM-DD,
// default today). It writes the 400 response itself.
func (h *LogHandler) parseParams(c *gin.Context) (logger.LogCategory, time.Time, bool) {
	category := logger.LogCategory(c.Param("category"))
	if !logger.ValidCategory(category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category"})
		return "", time.Time{}, false
	}

	date := h.now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format, use YYYY-MM-DD"})
			return "", time.Time{}, false
		}
		date = parsed
	}
	return category, date, true
}
