package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"estimo/server/internal/metrics"
)

// NewRouter builds the gin engine with the middleware chain and every route.
func NewRouter(handler *Handler, allowedOrigins []string, m *metrics.Metrics, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		RequestID(),
		Logger(logger, m),
		Recovery(logger),
		cors.New(corsConfig(allowedOrigins)),
	)

	SetupRoutes(router, handler, m)
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

func SetupRoutes(router *gin.Engine, handler *Handler, m *metrics.Metrics) {
	api := router.Group("/api")
	{
		api.GET("/health", handler.Health)
		api.GET("/features", handler.Features)
		api.POST("/geocode", handler.Geocode)
		api.POST("/predict", handler.Predict)
		api.POST("/estimate", handler.Estimate)
		api.GET("/price-history/:postal_code", handler.PriceHistory)
	}

	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}
}
