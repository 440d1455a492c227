package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/logging"
)

// APIKeyAuth guards routes with a static API key header. Disabled auth
// passes everything through, for local development.
func APIKeyAuth(cfg config.AuthConfig, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		provided := c.GetHeader(cfg.HeaderName)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}

		for _, key := range cfg.APIKeys {
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1 {
				c.Next()
				return
			}
		}

		logger.WarnWithContext(c.Request.Context(), "rejected request with invalid api key",
			"path", c.Request.URL.Path, "remote", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
	}
}
