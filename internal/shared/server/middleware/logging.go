package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"salesops-backend/internal/shared/telemetry"
)

// quietRoutes are probed constantly and only logged at debug.
var quietRoutes = map[string]bool{
	"/api/v1/health": true,
	"/metrics":       true,
}

// Logging writes one request.complete line per request, annotated with
// the job ID and status transition when a handler recorded them.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"user_id":     UserIDFromContext(c),
			"method":      c.Request.Method,
			"route":       c.FullPath(),
			"status":      status,
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"bytes":       c.Writer.Size(),
			"client_ip":   c.ClientIP(),
		}
		if jobID := c.GetString("jobId"); jobID != "" {
			fields["job_id"] = jobID
		}
		if transition := c.GetString("statusTransition"); transition != "" {
			fields["status_transition"] = transition
		}

		switch {
		case status >= http.StatusInternalServerError:
			telemetry.Error("request.complete", fields)
		case quietRoutes[c.FullPath()]:
			telemetry.Debug("request.complete", fields)
		default:
			telemetry.Info("request.complete", fields)
		}
	}
}
