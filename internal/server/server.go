package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zhejian/url-shortener/shortener/internal/api"
	"github.com/zhejian/url-shortener/shortener/internal/config"
	"github.com/zhejian/url-shortener/shortener/internal/events"
	"github.com/zhejian/url-shortener/shortener/internal/middleware"
	"github.com/zhejian/url-shortener/shortener/internal/service"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Deps are the already-constructed collaborators the router is built from.
type Deps struct {
	Shortener      service.ShortenerServiceInterface
	Events         events.Publisher
	Health         map[string]api.Pinger // optional backing services reported by /health
	RateLimiter    *middleware.RateLimiter
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

// NewRouter returns a configured Gin router.
// This is useful for testing where you don't need the full HTTP server.
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	r := gin.New()
	// ClientIP keys the creator quota and the rate limiter; only listed
	// proxies may override the peer address.
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		deps.Logger.Error("invalid trusted proxies", zap.Error(err))
	}
	r.Use(otelgin.Middleware(cfg.Observability.ServiceName))
	r.Use(gin.Recovery())
	r.Use(middleware.Logging(deps.Logger))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware())
	}

	if deps.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	handler := api.NewHandler(deps.Shortener, deps.Events, deps.Health, cfg.App.BaseURL, deps.Logger)
	handler.RegisterRoutes(r)
	return r
}

// NewServer returns the router wrapped in an HTTP server with the
// configured address and timeouts.
func NewServer(cfg *config.Config, deps Deps) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      NewRouter(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
