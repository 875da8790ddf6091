package handlers

import (
	"errors"
	"strconv"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/middleware"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/services"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/response"
	"github.com/gin-gonic/gin"
)

type ProjectHandler struct {
	projectService *services.ProjectService
	notifier       *services.NotificationService
	discord        *services.DiscordNotifier
}

func NewProjectHandler(projectService *services.ProjectService, notifier *services.NotificationService, discord *services.DiscordNotifier) *ProjectHandler {
	return &ProjectHandler{
		projectService: projectService,
		notifier:       notifier,
		discord:        discord,
	}
}

// List returns paginated projects
// GET /api/admin/projects
func (h *ProjectHandler) List(c *gin.Context) {
	var req services.ProjectListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.projectService.List(&req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, resp)
}

// GetByID returns a project by ID
// GET /api/admin/projects/:id
func (h *ProjectHandler) GetByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	project, err := h.projectService.GetByID(uint(id))
	if err != nil {
		projectError(c, err)
		return
	}

	response.Success(c, project)
}

// Create creates a project with the default rule set
// POST /api/admin/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req services.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	project, err := h.projectService.Create(&req, middleware.GetUserID(c))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Created(c, project)
}

// Update updates a project
// PUT /api/admin/projects/:id
func (h *ProjectHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	var req services.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	project, err := h.projectService.Update(uint(id), &req)
	if err != nil {
		projectError(c, err)
		return
	}

	response.Success(c, project)
}

// Delete deletes a project with its rules and API keys
// DELETE /api/admin/projects/:id
func (h *ProjectHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	if err := h.projectService.Delete(uint(id)); err != nil {
		projectError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "project deleted successfully"})
}

// Stats returns moderation counters and pushes them to dashboards
// GET /api/admin/projects/:id/stats
func (h *ProjectHandler) Stats(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	stats, err := h.projectService.Stats(uint(id))
	if err != nil {
		projectError(c, err)
		return
	}
	if h.notifier != nil {
		h.notifier.PublishStats(stats.ProjectID, stats)
	}

	response.Success(c, stats)
}

// TestDiscord sends a test embed to the project's Discord webhook
// POST /api/admin/projects/:id/discord/test
func (h *ProjectHandler) TestDiscord(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return
	}

	project, err := h.projectService.GetByID(uint(id))
	if err != nil {
		projectError(c, err)
		return
	}
	if project.DiscordWebhookURL == "" || h.discord == nil {
		response.BadRequest(c, "project has no discord webhook")
		return
	}

	if err := h.discord.SendTest(c.Request.Context(), project.DiscordWebhookURL, project.Name); err != nil {
		response.Error(c, response.NewBadRequest("discord test failed: "+err.Error()))
		return
	}

	response.Success(c, gin.H{"message": "test message sent"})
}

func projectError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrProjectNotFound) {
		response.NotFound(c, "project not found")
		return
	}
	response.ServerError(c, err.Error())
}
