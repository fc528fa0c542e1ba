package routes

import (
	"net/http"
	"time"

	"tablebook/handlers"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RegisterAvailabilityRoutes registers the capacity grid and the availability check.
func RegisterAvailabilityRoutes(api *gin.RouterGroup, hb *handlers.HandlerBundle) {
	api.GET("/availability", hb.DailyAvailabilityHandler)
	api.POST("/availability/check", hb.CheckAvailabilityHandler)
}

// RegisterBookingRoutes sets up the endpoints for the booking engine.
func RegisterBookingRoutes(api *gin.RouterGroup, hb *handlers.HandlerBundle) {
	bookingGroup := api.Group("/bookings")
	{
		bookingGroup.POST("", hb.CreateBookingHandler)
		bookingGroup.GET("", hb.ListUserBookingsHandler)
		bookingGroup.GET("/:bookingID", hb.GetBookingHandler)
		bookingGroup.PATCH("/:bookingID", hb.ModifyBookingHandler)
		bookingGroup.DELETE("/:bookingID", hb.CancelBookingHandler)
	}
}

// RegisterConversationRoutes registers the inbound message endpoint.
func RegisterConversationRoutes(api *gin.RouterGroup, hb *handlers.HandlerBundle) {
	api.POST("/conversations/turn", hb.ConversationTurnHandler)
}

// RegisterHealthRoute registers a health-check endpoint.
func RegisterHealthRoute(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.GET("/health", hb.HealthHandler)
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "tablebook"})
	})
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "If-Match", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	RegisterHealthRoute(r, hb)
	tenant := r.Group("/api/tenants/:tenantID")
	RegisterAvailabilityRoutes(tenant, hb)
	RegisterBookingRoutes(tenant, hb)
	RegisterConversationRoutes(tenant, hb)
}
