package routes

import (
	"monsoon/internal/controllers"
	"monsoon/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterProcessRoutes registers the process list. The kill endpoint
// only exists when auth is enabled.
func RegisterProcessRoutes(r *gin.Engine, authEnabled bool) {
	processes := r.Group("/processes")
	if authEnabled {
		processes.Use(middleware.TokenAuthMiddleware())
	}
	{
		processes.GET("", controllers.GetProcesses)
		if authEnabled {
			processes.POST("/:pid/kill", controllers.KillProcess)
		}
	}
}
