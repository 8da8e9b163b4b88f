package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"salesops-backend/internal/shared/metrics"
	"salesops-backend/internal/shared/server/respond"
	"salesops-backend/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 with the standard error body.
// If the handler already started writing, only the log entry is produced.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			metrics.IncHTTPPanics()
			telemetry.Error("http.panic", map[string]any{
				"request_id": RequestIDFromContext(c),
				"user_id":    UserIDFromContext(c),
				"error":      fmt.Sprint(rec),
				"stack":      string(debug.Stack()),
				"route":      c.FullPath(),
				"method":     c.Request.Method,
			})
			if c.Writer.Written() {
				c.Abort()
				return
			}
			respond.Error(c, http.StatusInternalServerError, "internal_error", "Unexpected server error", gin.H{
				"requestId": RequestIDFromContext(c),
			})
		}()
		c.Next()
	}
}
