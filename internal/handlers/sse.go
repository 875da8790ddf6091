package handlers

import (
	"io"
	"strconv"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/services"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/response"
	"github.com/gin-gonic/gin"
)

// sseHeartbeat keeps idle streams alive through proxies that close silent
// connections.
const sseHeartbeat = 25 * time.Second

type SSEHandler struct {
	hub       *services.SSEHub
	heartbeat time.Duration
}

func NewSSEHandler(hub *services.SSEHub) *SSEHandler {
	return &SSEHandler{hub: hub, heartbeat: sseHeartbeat}
}

// StreamModerationEvents streams moderation decisions as "moderation_update"
// events, for one project when project_id is set.
// GET /api/admin/events?project_id=
func (h *SSEHandler) StreamModerationEvents(c *gin.Context) {
	var projectID uint
	if raw := c.Query("project_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			response.BadRequest(c, "invalid project id")
			return
		}
		projectID = uint(id)
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sub := h.hub.Subscribe(projectID)
	defer h.hub.Unsubscribe(sub)
	logger.Info().Str("client_id", sub.ID).Uint("project_id", projectID).
		Int("clients", h.hub.ClientCount()).Msg("[SSE] client connected")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				return false
			}
			c.SSEvent("moderation_update", event)
			return true
		case <-ticker.C:
			c.SSEvent("heartbeat", time.Now().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
	logger.Debug().Str("client_id", sub.ID).Msg("[SSE] client disconnected")
}
