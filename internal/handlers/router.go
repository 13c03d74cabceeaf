package handlers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Brownie44l1/damage-api/internal/middleware"
)

// NewRouter wires the API routes.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog())
	router.Use(cors.New(corsConfig(h.cfg.AllowedOrigins)))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{EndPointMetrics})))

	router.GET(EndPointRoot, h.Root)
	router.GET(EndPointHealth, h.Health)
	router.GET(EndPointMetrics, gin.WrapH(promhttp.Handler()))

	api := router.Group("/")
	if h.cfg.RateLimitPerMinute > 0 {
		api.Use(middleware.RateLimit(h.cfg.RateLimitPerMinute, time.Minute, h.RateLimited))
	}
	{
		api.POST(EndPointPredictDamage, h.PredictDamage)
		api.POST(EndPointPredictLocation, h.PredictLocation)
		api.POST(EndPointExtractFeatures, h.ExtractFeatures)
		api.POST(EndPointComprehensiveAnalysis, h.ComprehensiveAnalysis)
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderRequestID},
		ExposeHeaders: []string{middleware.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	// Browsers refuse credentials with a wildcard origin.
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
