package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/social-dl-go/internal/app"
	"github.com/yourusername/social-dl-go/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad url", app.ErrValidation), http.StatusBadRequest},
		{domain.ErrSessionNotFound, http.StatusNotFound},
		{domain.ErrArtifactNotReady, http.StatusConflict},
		{app.ErrNotCancellable, http.StatusConflict},
		{domain.ErrArtifactExpired, http.StatusGone},
		{app.ErrQueueFull, http.StatusServiceUnavailable},
		{app.ErrPoolStopped, http.StatusServiceUnavailable},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestRespondError_IncludesKind(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	respondError(c, domain.NewFetchError(domain.KindVideoNotFound, "video removed", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "video_not_found", body["kind"])
	assert.Equal(t, "video removed", body["error"])
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 50, parseLimit("", 50, 500))
	assert.Equal(t, 50, parseLimit("abc", 50, 500))
	assert.Equal(t, 50, parseLimit("-3", 50, 500))
	assert.Equal(t, 10, parseLimit("10", 50, 500))
	assert.Equal(t, 500, parseLimit("9999", 50, 500))
}

func TestHistoryHandler_Disabled(t *testing.T) {
	h := NewHistoryHandler(nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	h.ListHistory(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "history is disabled")
}

type fakeRunner bool

func (r fakeRunner) IsRunning() bool { return bool(r) }

func TestHealthHandler_Ready(t *testing.T) {
	h := NewHealthHandler(map[string]Runner{"worker_pool": fakeRunner(true), "sweeper": fakeRunner(false)})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "sweeper not running")

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	h.Health(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"worker_pool":true`)
}
