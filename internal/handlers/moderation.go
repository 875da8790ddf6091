package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/middleware"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/services"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/response"
	"github.com/gin-gonic/gin"
)

// ModerationHandler serves the API-key authenticated moderation API.
// Responses are plain JSON objects rather than the admin envelope.
type ModerationHandler struct {
	contentService *services.ContentService
	projectService *services.ProjectService
}

func NewModerationHandler(contentService *services.ContentService, projectService *services.ProjectService) *ModerationHandler {
	return &ModerationHandler{
		contentService: contentService,
		projectService: projectService,
	}
}

// Moderate submits content for moderation
// POST /api/moderate
func (h *ModerationHandler) Moderate(c *gin.Context) {
	var req services.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.APIError(c, http.StatusRequestEntityTooLarge, services.ErrContentTooLarge.Error())
			return
		}
		response.APIError(c, http.StatusBadRequest, "JSON data required")
		return
	}

	result, err := h.contentService.Submit(c.Request.Context(), middleware.GetProjectID(c), &req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrContentTooLarge), errors.Is(err, services.ErrMetadataTooLarge):
			response.APIError(c, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, services.ErrContentRequired), errors.Is(err, services.ErrUnsupportedType):
			response.APIError(c, http.StatusBadRequest, err.Error())
		default:
			logger.Errorf("[API] Moderate failed: %v", err)
			response.APIError(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	if result.Queued {
		c.JSON(http.StatusAccepted, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetContent returns one content item of the key's project
// GET /api/content/:id
func (h *ModerationHandler) GetContent(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.APIError(c, http.StatusBadRequest, "invalid content id")
		return
	}

	detail, err := h.contentService.Get(c.Request.Context(), middleware.GetProjectID(c), uint(id))
	if err != nil {
		if errors.Is(err, services.ErrContentNotFound) {
			response.APIError(c, http.StatusNotFound, "Content not found")
			return
		}
		response.APIError(c, http.StatusInternalServerError, err.Error())
		return
	}

	response.APISuccess(c, http.StatusOK, gin.H{"content": detail})
}

// ListContent pages through the key's project content
// GET /api/content
func (h *ModerationHandler) ListContent(c *gin.Context) {
	var req services.ContentListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.APIError(c, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.contentService.List(c.Request.Context(), middleware.GetProjectID(c), &req)
	if err != nil {
		response.APIError(c, http.StatusInternalServerError, err.Error())
		return
	}

	response.APISuccess(c, http.StatusOK, gin.H{
		"content":    resp.Items,
		"pagination": resp.Pagination,
	})
}

// Stats returns moderation counters for the key's project
// GET /api/stats
func (h *ModerationHandler) Stats(c *gin.Context) {
	stats, err := h.projectService.Stats(middleware.GetProjectID(c))
	if err != nil {
		if errors.Is(err, services.ErrProjectNotFound) {
			response.APIError(c, http.StatusNotFound, "Project not found")
			return
		}
		response.APIError(c, http.StatusInternalServerError, err.Error())
		return
	}

	response.APISuccess(c, http.StatusOK, gin.H{"stats": stats})
}
