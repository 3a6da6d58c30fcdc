package routes

import (
	"monsoon/internal/controllers"
	"monsoon/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterMonitorRoutes registers the one-shot metrics endpoints. They
// require a token when auth is enabled.
func RegisterMonitorRoutes(r *gin.Engine, authEnabled bool) {
	metrics := r.Group("/metrics")
	if authEnabled {
		metrics.Use(middleware.TokenAuthMiddleware())
	}
	{
		metrics.GET("/cpu/capabilities", controllers.GetCapabilities)
		metrics.GET("/cpu/features", controllers.GetFeatures)
		metrics.GET("/memory", controllers.GetMemory)
		metrics.GET("/system", controllers.GetSystem)
	}
}

func RegisterHealthRoutes(r *gin.Engine) {
	r.GET("/healthz", controllers.GetHealth)
}
