package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"toolmesh.dev/engine/internal/engine"
)

// SetupRoutes registers the engine's single HTTP surface, mirroring the
// teacher's router.SetupRoutes(router, services, cfg) convention. Order
// matters: OTel creates the span, Recovery catches panics within it, Logger
// logs with the resulting trace context.
func SetupRoutes(router *gin.Engine, orchestrator *engine.Orchestrator, serviceName string, otelEnabled bool) {
	if otelEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}
	router.Use(Recovery())
	router.Use(Logger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	queryHandler := NewQueryHandler(orchestrator)
	v1 := router.Group("/v1")
	{
		v1.POST("/query", queryHandler.Query)
	}
}
