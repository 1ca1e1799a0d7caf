package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modelhub/modelhub-api/handlers"
	"github.com/modelhub/modelhub-api/internal/catalog/handler"
	"github.com/modelhub/modelhub-api/internal/catalog/service"
	"github.com/modelhub/modelhub-api/internal/config"
	"github.com/modelhub/modelhub-api/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var startTime = time.Now()

// PingFunc checks one dependency for the readiness probe.
type PingFunc func(ctx context.Context) error

// Deps is everything the router needs; nil members disable the matching feature.
type Deps struct {
	Config   *config.Config
	Catalog  *service.Service
	Verifier middleware.Verifier
	// StorePing is nil when running on the in-memory store.
	StorePing PingFunc
	Redis     *redis.Client
	Gatherer  prometheus.Gatherer
}

// NewRouter assembles middleware and routes.
func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery(), middleware.Logger(), middleware.CORS())

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && d.Redis != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(d.Redis, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", readiness(d))

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	handlers.RegisterSwagger(r)

	handler.New(d.Catalog, middleware.AuthMiddleware(d.Verifier)).
		EnforceOwner(cfg.Auth.EnforceOwner).
		Register(r)
	return r
}

// readiness returns 200 only when the store answers, a verifier is configured
// and Redis answers when the limiter depends on it.
func readiness(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		ready := true
		deps := map[string]bool{}

		if d.StorePing != nil {
			deps["store"] = d.StorePing(ctx) == nil
		} else {
			deps["store"] = d.Catalog != nil
		}
		deps["oidc"] = d.Verifier != nil
		if d.Config.RateLimit.Enabled && d.Config.RateLimit.UseRedis {
			deps["redis"] = d.Redis != nil && d.Redis.Ping(ctx).Err() == nil
		}
		for _, ok := range deps {
			ready = ready && ok
		}

		uptime := time.Since(startTime).Round(time.Second).String()
		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": deps, "uptime": uptime})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": uptime})
	}
}
