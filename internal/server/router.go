package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/meetloop/fleet-backend/internal/handlers"
	"github.com/meetloop/fleet-backend/internal/metrics"
)

type RouterConfig struct {
	OpsHandler *handlers.OpsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthz", cfg.OpsHandler.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	internal := router.Group("/internal")
	{
		internal.POST("/workers/:name/run", cfg.OpsHandler.RunWorker)
		internal.GET("/queue/stats", cfg.OpsHandler.QueueStats)
	}

	return router
}
