package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ahmedmanch666/slam/internal/config"
	"github.com/ahmedmanch666/slam/internal/metrics"
	"github.com/ahmedmanch666/slam/internal/middleware"
	"github.com/ahmedmanch666/slam/internal/models"
	"github.com/ahmedmanch666/slam/internal/repository"
	"github.com/ahmedmanch666/slam/internal/security"
	"github.com/ahmedmanch666/slam/internal/service"
)

type Dependencies struct {
	Log         zerolog.Logger
	Config      *config.AppConfig
	AuthService *service.AuthService
	Tokens      *security.Issuer
	Store       repository.SessionStore
	// Cache is nil when Redis is disabled; rate limiting is skipped then.
	Cache   *redis.Client
	Metrics *metrics.Metrics
}

type HandlerSet struct {
	log         zerolog.Logger
	cfg         *config.AppConfig
	authService *service.AuthService
	tokens      *security.Issuer
	store       repository.SessionStore
	cache       *redis.Client
	metrics     *metrics.Metrics
}

func NewHandlerSet(deps Dependencies) HandlerSet {
	return HandlerSet{
		log:         deps.Log,
		cfg:         deps.Config,
		authService: deps.AuthService,
		tokens:      deps.Tokens,
		store:       deps.Store,
		cache:       deps.Cache,
		metrics:     deps.Metrics,
	}
}

func (h HandlerSet) Register(router gin.IRouter) {
	router.GET("/healthz", h.Health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	auth := router.Group("/auth")
	if h.cache != nil && h.cfg.RateLimit.Enabled {
		auth.Use(middleware.RateLimit(h.cache, middleware.RateLimitOptions{
			Prefix:   "ratelimit:auth",
			Requests: h.cfg.RateLimit.Requests,
			Window:   h.cfg.RateLimit.Window,
		}, h.log))
	}
	auth.POST("/register", h.RegisterAccount)
	auth.POST("/login", h.Login)
	auth.POST("/refresh", h.Refresh)
	auth.POST("/logout", h.Logout)

	api := router.Group("/api")
	api.Use(middleware.Auth(h.tokens))
	api.GET("/me", h.Me)

	admin := api.Group("/admin")
	admin.Use(middleware.RequireRoles(models.UserRoleAdmin))
	admin.GET("/stats", h.AdminStats)
}
