package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"salesops-backend/internal/shared/metrics"
	"salesops-backend/internal/shared/server/middleware"
	"salesops-backend/internal/shared/server/respond"
)

// Rate-limit groups.
const (
	GroupDefault = "DEFAULT"
	GroupPolling = "POLLING"
	GroupSubmit  = "SUBMIT"
)

// RouteRegistrar attaches a feature's routes to the API group. polling is
// the middleware chain for read endpoints clients call in a loop.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup, polling ...gin.HandlerFunc)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(c *gin.Context) error

// Deps are the inputs to NewRouter.
type Deps struct {
	CORSAllowOrigin []string
	Health          HealthCheck
	RateLimits      map[string]middleware.RateLimitRule
	Routes          []RouteRegistrar
}

// DefaultRateLimits are per-user token buckets for each group.
func DefaultRateLimits() map[string]middleware.RateLimitRule {
	return map[string]middleware.RateLimitRule{
		GroupDefault: {Rate: 5, Burst: 20},
		GroupPolling: {Rate: 10, Burst: 40},
		GroupSubmit:  {Rate: 1, Burst: 10},
	}
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.CORSAllowOrigin),
		middleware.Identity(),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health(c); err != nil {
				respond.Error(c, http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
				return
			}
		}
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})

	limits := deps.RateLimits
	if limits == nil {
		limits = DefaultRateLimits()
	}
	limiter := middleware.NewRateLimiter(nil)
	limited := api.Group("", middleware.RateLimit(middleware.RateLimitConfig{
		Rules:        limits,
		DefaultGroup: GroupDefault,
		GroupFor:     groupFor,
		Limiter:      limiter,
	}))
	for _, reg := range deps.Routes {
		reg.RegisterRoutes(limited)
	}
	return r
}

func groupFor(c *gin.Context) string {
	switch c.Request.Method {
	case http.MethodGet:
		return GroupPolling
	case http.MethodPost:
		if c.FullPath() == "/api/v1/jobs" || c.FullPath() == "/api/v1/jobs/batch" {
			return GroupSubmit
		}
	}
	return GroupDefault
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
