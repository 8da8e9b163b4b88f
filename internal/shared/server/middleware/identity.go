package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"salesops-backend/internal/shared/util"
)

const (
	userIDKey       = "userId"
	userIDHeader    = "X-User-Id"
	anonymousUserID = "anonymous"
	maxUserIDLength = 128
)

// Identity trusts the caller identity forwarded by the upstream gateway in
// X-User-Id. Requests without one are attributed to "anonymous".
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		userID := strings.TrimSpace(c.GetHeader(userIDHeader))
		if userID == "" {
			userID = anonymousUserID
		}
		userID = util.Truncate(userID, maxUserIDLength)
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserIDFromContext fetches the user ID set by the identity middleware.
func UserIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(userIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}
