package handlers

import (
	"errors"
	"strconv"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/services"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/response"
	"github.com/gin-gonic/gin"
)

type APIKeyHandler struct {
	apiKeyService  *services.APIKeyService
	projectService *services.ProjectService
}

func NewAPIKeyHandler(apiKeyService *services.APIKeyService, projectService *services.ProjectService) *APIKeyHandler {
	return &APIKeyHandler{
		apiKeyService:  apiKeyService,
		projectService: projectService,
	}
}

// List returns the project's keys, masked
// GET /api/admin/projects/:id/api-keys
func (h *APIKeyHandler) List(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	keys, err := h.apiKeyService.List(uint(projectID))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, keys)
}

// Create issues a new key. The plaintext key is only in this response.
// POST /api/admin/projects/:id/api-keys
func (h *APIKeyHandler) Create(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}
	if _, err := h.projectService.GetByID(uint(projectID)); err != nil {
		projectError(c, err)
		return
	}

	var req services.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	key, err := h.apiKeyService.Create(uint(projectID), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Created(c, key)
}

// Revoke deactivates a key
// POST /api/admin/projects/:id/api-keys/:key_id/revoke
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	projectID, keyID, ok := apiKeyIDs(c)
	if !ok {
		return
	}

	if err := h.apiKeyService.Revoke(projectID, keyID); err != nil {
		apiKeyError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "api key revoked"})
}

// Delete removes a key
// DELETE /api/admin/projects/:id/api-keys/:key_id
func (h *APIKeyHandler) Delete(c *gin.Context) {
	projectID, keyID, ok := apiKeyIDs(c)
	if !ok {
		return
	}

	if err := h.apiKeyService.Delete(projectID, keyID); err != nil {
		apiKeyError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "api key deleted"})
}

func apiKeyIDs(c *gin.Context) (projectID, keyID uint, ok bool) {
	pid, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return 0, 0, false
	}
	kid, err := strconv.ParseUint(c.Param("key_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid api key id")
		return 0, 0, false
	}
	return uint(pid), uint(kid), true
}

func apiKeyError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrAPIKeyNotFound) {
		response.NotFound(c, "api key not found")
		return
	}
	response.ServerError(c, err.Error())
}
