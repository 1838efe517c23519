package app

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"cvesentinel.io/sentinel/internal/api/handlers"
	"cvesentinel.io/sentinel/internal/api/middleware"
	"cvesentinel.io/sentinel/internal/auth"
	"cvesentinel.io/sentinel/internal/config"
	"cvesentinel.io/sentinel/internal/pkg/logger"
)

const apiBasePath = "/api/v1"

// defaultAllowedOrigins applies when no origin is configured.
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
}

func newRouter(cfg *config.Config, server *handlers.Server, jwtCfg middleware.JWTConfig, guard *auth.Guard) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	router.Use(cors.New(buildCORSConfig(cfg)))

	authn := middleware.JWTAuth(jwtCfg)
	api := router.Group(apiBasePath)
	server.RegisterRoutes(api, authn, middleware.MustOpenAPIValidator(apiBasePath, middleware.OpenAPIOptions{}))

	// Runtime log level: GET reads it, PUT {"level":"debug"} changes it.
	levels := gin.WrapH(logger.LevelHandler())
	admin := api.Group("/admin", authn, middleware.RequireAdmin(guard))
	admin.GET("/log-level", levels)
	admin.PUT("/log-level", levels)
	return router
}

func buildCORSConfig(cfg *config.Config) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: cfg.Server.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}

	if cfg.Server.UnsafeAllowAllOrigins {
		// Browsers reject credentials with a wildcard origin.
		c.AllowAllOrigins = true
		c.AllowCredentials = false
		return c
	}

	origins := slices.DeleteFunc(slices.Clone(cfg.Server.AllowedOrigins), func(o string) bool {
		return o == "*" || o == ""
	})
	if len(origins) == 0 {
		origins = slices.Clone(defaultAllowedOrigins)
	}
	c.AllowOrigins = origins
	return c
}
