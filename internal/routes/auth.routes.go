package routes

import (
	"monsoon/internal/controllers"
	"monsoon/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterAuthRoutes registers the WebSocket endpoint and token status.
// Token generation is CLI only (--print-token).
func RegisterAuthRoutes(r *gin.Engine) {
	r.GET("/ws", middleware.RateLimitMiddleware(middleware.NewSubscribeRateLimiter()), controllers.HandleWebSocket)
	r.GET("/auth/status", controllers.HandleTokenStatus)
}
