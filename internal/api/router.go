package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/devfolio/api/internal/app"
	iauth "github.com/devfolio/api/internal/auth"
	"github.com/devfolio/api/internal/handlers"
	"github.com/devfolio/api/internal/middleware"
	"github.com/devfolio/api/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(db *gorm.DB, tokens *iauth.TokenService, cfg *app.Config, authSvc *services.AuthService, rateStore middleware.RateStore) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token service must be provided")
	}
	if authSvc == nil {
		return nil, fmt.Errorf("auth service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))
	r.Use(middleware.RateLimit(rateStore, cfg.Server.RateLimit.MaxRequests, cfg.Server.RateLimit.Window))

	r.GET("/health", handlers.Health(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	tokenCfg := cfg.Auth.TokenServiceConfig()
	authHandler := handlers.NewAuthHandler(authSvc, handlers.CookieConfig{
		Secure:        cfg.Server.IsProduction(),
		AccessMaxAge:  tokenCfg.AccessTokenTTL,
		RefreshMaxAge: tokenCfg.RefreshTokenTTL,
	})

	requireSession := middleware.Session(tokens, db)

	api := r.Group("/api/v1")
	// Auth endpoints take a tighter budget than the global limiter
	api.Use(middleware.ScopedRateLimit(rateStore, "auth", cfg.Server.RateLimit.AuthMaxRequests, cfg.Server.RateLimit.AuthWindow))
	registerAuthRoutes(api, authHandler, requireSession)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
