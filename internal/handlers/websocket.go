package handlers

import (
	"strconv"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/services"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/response"
	"github.com/gin-gonic/gin"
)

type WebSocketHandler struct {
	hub *services.WebSocketHub
}

func NewWebSocketHandler(hub *services.WebSocketHub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// Serve upgrades to a WebSocket joined to the requested project rooms.
// Clients may join more rooms later with a {"action":"join"} message.
// GET /api/admin/ws?project_id=1&project_id=2
func (h *WebSocketHandler) Serve(c *gin.Context) {
	var projectIDs []uint
	for _, raw := range c.QueryArray("project_id") {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			response.BadRequest(c, "invalid project id")
			return
		}
		projectIDs = append(projectIDs, uint(id))
	}

	// The upgrader has already written an error response on failure.
	if err := h.hub.ServeWS(c.Writer, c.Request, projectIDs...); err != nil {
		logger.Warnf("[WebSocket] Upgrade failed: %v", err)
	}
}
