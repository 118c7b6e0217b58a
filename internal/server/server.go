package server

import (
	"github.com/amrrdev/keygen/internal/handler"
	"github.com/amrrdev/keygen/internal/metrics"
	"github.com/amrrdev/keygen/internal/middleware"
	"github.com/amrrdev/keygen/internal/routes"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func NewServer(keygenHandler *handler.KeygenHandler, authMiddleware *middleware.AuthMiddleware, collector *metrics.Collector, logger zerolog.Logger) *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), middleware.Logger(logger))

	g.GET("/healthz", handler.Health)
	g.GET("/metrics", gin.WrapH(collector.Handler()))

	api := g.Group("/api")
	routes.RegisterRoutes(api, keygenHandler, authMiddleware)
	return g
}
