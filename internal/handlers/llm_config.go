package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/services"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/response"
	"github.com/gin-gonic/gin"
)

// LLMConfigHandler is the admin CRUD for database-stored chat providers.
// Every successful mutation calls onChange so AIService drops clients and
// breaker state built from the old settings.
type LLMConfigHandler struct {
	configs  *services.LLMConfigService
	onChange func()
}

func NewLLMConfigHandler(configs *services.LLMConfigService, onChange func()) *LLMConfigHandler {
	return &LLMConfigHandler{configs: configs, onChange: onChange}
}

func (h *LLMConfigHandler) mutated() {
	if h.onChange != nil {
		h.onChange()
	}
}

func llmConfigID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid config id")
		return 0, false
	}
	return uint(id), true
}

func llmConfigError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrLLMConfigNotFound):
		response.NotFound(c, "config not found")
	case errors.Is(err, services.ErrLLMConfigInvalid):
		response.Fail(c, http.StatusUnprocessableEntity, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// GET /api/admin/llm-configs
func (h *LLMConfigHandler) List(c *gin.Context) {
	var req services.LLMConfigListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	page, err := h.configs.List(&req)
	if err != nil {
		llmConfigError(c, err)
		return
	}
	response.Success(c, page)
}

// GET /api/admin/llm-configs/active
func (h *LLMConfigHandler) GetActive(c *gin.Context) {
	configs, err := h.configs.GetActive()
	if err != nil {
		llmConfigError(c, err)
		return
	}
	response.Success(c, configs)
}

func (h *LLMConfigHandler) GetByID(c *gin.Context) {
	id, ok := llmConfigID(c)
	if !ok {
		return
	}
	cfg, err := h.configs.GetByID(id)
	if err != nil {
		llmConfigError(c, err)
		return
	}
	response.Success(c, cfg)
}

func (h *LLMConfigHandler) Create(c *gin.Context) {
	var req services.CreateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	cfg, err := h.configs.Create(&req)
	if err != nil {
		llmConfigError(c, err)
		return
	}
	h.mutated()
	response.Created(c, cfg)
}

func (h *LLMConfigHandler) Update(c *gin.Context) {
	id, ok := llmConfigID(c)
	if !ok {
		return
	}
	var req services.UpdateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	cfg, err := h.configs.Update(id, &req)
	if err != nil {
		llmConfigError(c, err)
		return
	}
	h.mutated()
	response.Success(c, cfg)
}

func (h *LLMConfigHandler) Delete(c *gin.Context) {
	id, ok := llmConfigID(c)
	if !ok {
		return
	}
	if err := h.configs.Delete(id); err != nil {
		llmConfigError(c, err)
		return
	}
	h.mutated()
	response.Success(c, gin.H{"deleted": id})
}
