package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Identity())
	router.GET("/who", func(c *gin.Context) {
		c.String(http.StatusOK, UserIDFromContext(c))
	})

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "forwarded", header: " rep-42 ", want: "rep-42"},
		{name: "missing", header: "", want: "anonymous"},
		{name: "truncated", header: strings.Repeat("x", 200), want: strings.Repeat("x", 128)},
		{name: "truncated on rune boundary", header: "a" + strings.Repeat("é", 100), want: "a" + strings.Repeat("é", 63)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/who", nil)
			if tt.header != "" {
				req.Header.Set("X-User-Id", tt.header)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Body.String() != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, resp.Body.String())
			}
		})
	}
}
