package handlers

import (
	"errors"
	"strconv"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/services"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/response"
	"github.com/gin-gonic/gin"
)

// RuleHandler manages a project's moderation rules. Every mutation drops the
// project's cached rule set.
type RuleHandler struct {
	ruleService    *services.RuleService
	projectService *services.ProjectService
}

func NewRuleHandler(ruleService *services.RuleService, projectService *services.ProjectService) *RuleHandler {
	return &RuleHandler{
		ruleService:    ruleService,
		projectService: projectService,
	}
}

// List returns the project's rules
// GET /api/admin/projects/:id/rules
func (h *RuleHandler) List(c *gin.Context) {
	projectID, ok := h.project(c)
	if !ok {
		return
	}

	rules, err := h.ruleService.List(projectID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, rules)
}

// GetByID returns one rule
// GET /api/admin/projects/:id/rules/:rule_id
func (h *RuleHandler) GetByID(c *gin.Context) {
	projectID, ruleID, ok := h.ids(c)
	if !ok {
		return
	}

	rule, err := h.ruleService.GetByID(projectID, ruleID)
	if err != nil {
		ruleError(c, err)
		return
	}

	response.Success(c, rule)
}

// Create adds a rule
// POST /api/admin/projects/:id/rules
func (h *RuleHandler) Create(c *gin.Context) {
	projectID, ok := h.project(c)
	if !ok {
		return
	}

	var req services.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	rule, err := h.ruleService.Create(projectID, &req)
	if err != nil {
		ruleError(c, err)
		return
	}

	response.Created(c, rule)
}

// Update changes a rule
// PUT /api/admin/projects/:id/rules/:rule_id
func (h *RuleHandler) Update(c *gin.Context) {
	projectID, ruleID, ok := h.ids(c)
	if !ok {
		return
	}

	var req services.UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	rule, err := h.ruleService.Update(projectID, ruleID, &req)
	if err != nil {
		ruleError(c, err)
		return
	}

	response.Success(c, rule)
}

// Toggle flips a rule between active and inactive
// PATCH /api/admin/projects/:id/rules/:rule_id/toggle
func (h *RuleHandler) Toggle(c *gin.Context) {
	projectID, ruleID, ok := h.ids(c)
	if !ok {
		return
	}

	rule, err := h.ruleService.Toggle(projectID, ruleID)
	if err != nil {
		ruleError(c, err)
		return
	}

	response.Success(c, rule)
}

// Delete removes a rule
// DELETE /api/admin/projects/:id/rules/:rule_id
func (h *RuleHandler) Delete(c *gin.Context) {
	projectID, ruleID, ok := h.ids(c)
	if !ok {
		return
	}

	if err := h.ruleService.Delete(projectID, ruleID); err != nil {
		ruleError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "rule deleted successfully"})
}

// project resolves the :id param to an existing project.
func (h *RuleHandler) project(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return 0, false
	}
	if _, err := h.projectService.GetByID(uint(id)); err != nil {
		projectError(c, err)
		return 0, false
	}
	return uint(id), true
}

func (h *RuleHandler) ids(c *gin.Context) (projectID, ruleID uint, ok bool) {
	pid, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid project id")
		return 0, 0, false
	}
	rid, err := strconv.ParseUint(c.Param("rule_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid rule id")
		return 0, 0, false
	}
	return uint(pid), uint(rid), true
}

func ruleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrRuleNotFound):
		response.NotFound(c, "rule not found")
	case errors.Is(err, services.ErrInvalidRule):
		response.BadRequest(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}
