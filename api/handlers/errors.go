package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/social-dl-go/internal/app"
	"github.com/yourusername/social-dl-go/internal/domain"
)

// statusFor maps an application error to an HTTP status code
func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrArtifactNotReady), errors.Is(err, app.ErrNotCancellable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrArtifactExpired):
		return http.StatusGone
	case errors.Is(err, app.ErrQueueFull), errors.Is(err, app.ErrPoolStopped):
		return http.StatusServiceUnavailable
	case domain.KindOf(err) == domain.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error": ...}. Classified errors also carry
// their kind.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	body := gin.H{"error": err.Error()}

	var fe *domain.FetchError
	if errors.As(err, &fe) {
		body["kind"] = fe.Kind
		body["error"] = domain.MessageOf(err)
	}
	c.JSON(statusFor(err), body)
}
