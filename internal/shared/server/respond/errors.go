package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"salesops-backend/internal/shared/telemetry"
)

// ErrorBody is the error object every endpoint returns on failure.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse wraps ErrorBody under an "error" key.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// FieldIssue points a validation failure at one request field.
type FieldIssue struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// Error aborts the request with status and the standard error body.
// Client errors log at warn and server errors at error.
func Error(c *gin.Context, status int, code, message string, details any) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"route":      c.FullPath(),
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if userID := c.GetString("userId"); userID != "" {
		fields["user_id"] = userID
	}
	if jobID := c.GetString("jobId"); jobID != "" {
		fields["job_id"] = jobID
	}
	if status >= http.StatusInternalServerError {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{Code: code, Message: message, Details: details},
	})
}

// Invalid reports a 400 validation failure for specific fields.
func Invalid(c *gin.Context, message string, issues ...FieldIssue) {
	var details any
	if len(issues) > 0 {
		details = issues
	}
	Error(c, http.StatusBadRequest, "validation_error", message, details)
}
