package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"salesops-backend/internal/shared/server/middleware"
)

type echoRoutes struct{}

func (echoRoutes) RegisterRoutes(rg *gin.RouterGroup, polling ...gin.HandlerFunc) {
	rg.POST("/jobs", func(c *gin.Context) {
		c.String(http.StatusAccepted, middleware.UserIDFromContext(c))
	})
}

func TestRouterHealthAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Deps{})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "jobs_submitted_total") {
		t.Fatalf("unexpected metrics response %d %q", resp.Code, resp.Body.String())
	}
}

func TestRouterHealthReportsDependencyFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Deps{Health: func(*gin.Context) error { return errors.New("db down") }})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestRouterAppliesIdentityAndSubmitLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Deps{
		Routes: []RouteRegistrar{echoRoutes{}},
		RateLimits: map[string]middleware.RateLimitRule{
			GroupSubmit: {Rate: 0.001, Burst: 1},
		},
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil)
		req.Header.Set("X-User-Id", "rep-7")
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		return resp
	}

	first := send()
	if first.Code != http.StatusAccepted || first.Body.String() != "rep-7" {
		t.Fatalf("unexpected first response %d %q", first.Code, first.Body.String())
	}
	if second := send(); second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
}

func TestAddr(t *testing.T) {
	for in, want := range map[string]string{"": ":8080", "9000": ":9000", ":7000": ":7000"} {
		if got := Addr(in); got != want {
			t.Fatalf("Addr(%q) = %q, want %q", in, got, want)
		}
	}
}
