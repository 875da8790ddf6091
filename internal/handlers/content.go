package handlers

import (
	"errors"
	"strconv"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/services"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/response"
	"github.com/gin-gonic/gin"
)

// ContentHandler lets admins browse a project's content and end users.
type ContentHandler struct {
	contentService *services.ContentService
	apiUserService *services.APIUserService
}

func NewContentHandler(contentService *services.ContentService, apiUserService *services.APIUserService) *ContentHandler {
	return &ContentHandler{
		contentService: contentService,
		apiUserService: apiUserService,
	}
}

// List GET /api/admin/projects/:id/content
func (h *ContentHandler) List(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	var req services.ContentListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.contentService.List(c.Request.Context(), uint(projectID), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, resp)
}

// GetByID GET /api/admin/projects/:id/content/:content_id
func (h *ContentHandler) GetByID(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}
	contentID, err := strconv.ParseUint(c.Param("content_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid content id")
		return
	}

	detail, err := h.contentService.Get(c.Request.Context(), uint(projectID), uint(contentID))
	if err != nil {
		if errors.Is(err, services.ErrContentNotFound) {
			response.NotFound(c, "content not found")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, detail)
}

// ListAPIUsers GET /api/admin/projects/:id/api-users
func (h *ContentHandler) ListAPIUsers(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	var req services.APIUserListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.apiUserService.List(uint(projectID), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, resp)
}

// GetAPIUser GET /api/admin/projects/:id/api-users/:external_id
func (h *ContentHandler) GetAPIUser(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	user, err := h.apiUserService.GetByExternalID(uint(projectID), c.Param("external_id"))
	if err != nil {
		if errors.Is(err, services.ErrAPIUserNotFound) {
			response.NotFound(c, "api user not found")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, user)
}
