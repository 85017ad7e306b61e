package http

import (
	"net/http"

	"zonecast/internal/core/ports"
	"zonecast/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

// RoomHandler exposes the operational read side: registry stats and
// health. Media control itself runs over the signaling socket.
type RoomHandler struct {
	registry ports.RoomRegistry
	health   *monitoring.HealthChecker
}

func NewRoomHandler(registry ports.RoomRegistry, health *monitoring.HealthChecker) *RoomHandler {
	return &RoomHandler{
		registry: registry,
		health:   health,
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	router.GET("/healthz", h.Healthz)

	api := router.Group("/api/v1")
	api.Use(authMiddleware)
	{
		api.GET("/rooms/stats", h.Stats)
	}
}

func (h *RoomHandler) Healthz(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *RoomHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Stats())
}
