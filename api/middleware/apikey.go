package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/social-dl-go/internal/domain"
)

// APIKeyContextKey holds the validated API key in the gin context
const APIKeyContextKey = "api_key"

// APIKey rejects requests without a configured key in the key header.
// Paths in open skip the check. It is a no-op unless require_api_key is set.
func APIKey(config domain.SecurityConfig, open ...string) gin.HandlerFunc {
	openPaths := make(map[string]bool, len(open))
	for _, p := range open {
		openPaths[p] = true
	}

	return func(c *gin.Context) {
		if !config.RequireAPIKey || openPaths[c.Request.URL.Path] || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		key := c.GetHeader(config.HeaderName)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
			return
		}
		if !validKey(config.APIKeys, key) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid API key"})
			return
		}
		c.Set(APIKeyContextKey, key)
		c.Next()
	}
}

func validKey(keys []string, key string) bool {
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}
