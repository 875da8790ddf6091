package handlers

import (
	"net/http"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler reports the health of the moderation subsystems.
type HealthHandler struct {
	db    *gorm.DB
	queue services.TaskQueue
	sse   *services.SSEHub
	ws    *services.WebSocketHub
	ai    *services.AIService
}

func NewHealthHandler(db *gorm.DB, queue services.TaskQueue, sse *services.SSEHub, ws *services.WebSocketHub, ai *services.AIService) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, sse: sse, ws: ws, ai: ai}
}

// CheckHealth returns the health status of all subsystems.
// GET /api/health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"

	// Database check
	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	components := gin.H{
		"database":   dbStatus,
		"queue_mode": queueMode,
	}
	if h.sse != nil {
		components["sse_clients"] = h.sse.ClientCount()
	}
	if h.ws != nil {
		components["ws_clients"] = h.ws.ClientCount()
	}
	if h.ai != nil {
		components["ai_configured"] = h.ai.Configured()
	}
	if overall == "healthy" {
		var pending int64
		h.db.Model(&models.Content{}).Where("status = ?", models.ContentStatusPending).Count(&pending)
		components["pending_content"] = pending
	}

	status := http.StatusOK
	if overall != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"service":    "automoderate",
		"components": components,
	})
}
