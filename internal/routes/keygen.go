package routes

import (
	"github.com/amrrdev/keygen/internal/handler"
	"github.com/amrrdev/keygen/internal/middleware"
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(router *gin.RouterGroup, keygenHandler *handler.KeygenHandler, authMiddleware *middleware.AuthMiddleware) {
	api := router.Group("")
	api.Use(authMiddleware.RequireAuth())
	{
		api.POST("/keygen", keygenHandler.Submit)
		api.GET("/result/:request_id", keygenHandler.Result)
		// An empty id must answer 400 rather than 404 or a redirect.
		api.GET("/result", keygenHandler.Result)
		api.GET("/result/", keygenHandler.Result)
	}
}
