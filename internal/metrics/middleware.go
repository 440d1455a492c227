package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vitalsync/vitalsync/internal/logging"
)

// Middleware records HTTP metrics for each request.
func Middleware(m *Metrics, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		c.Next()
		m.HTTPRequestsInFlight.Dec()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}

		m.RequestLatency.WithLabelValues(endpoint, c.Request.Method, status).Observe(duration)
		m.HTTPRequestsTotal.WithLabelValues(endpoint, c.Request.Method, status).Inc()

		if len(c.Errors) > 0 {
			logger.ErrorWithContext(c.Request.Context(), "request error", "error", c.Errors.String())
		}
	}
}
