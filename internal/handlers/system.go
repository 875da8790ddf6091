package handlers

import (
	"strconv"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/response"
	"github.com/gin-gonic/gin"
)

// SystemHandler exposes the moderation caches and error tracker.
type SystemHandler struct {
	resultCache *moderation.ResultCache
	ruleCache   *moderation.RuleCache
	tracker     *moderation.ErrorTracker
}

func NewSystemHandler(resultCache *moderation.ResultCache, ruleCache *moderation.RuleCache, tracker *moderation.ErrorTracker) *SystemHandler {
	return &SystemHandler{
		resultCache: resultCache,
		ruleCache:   ruleCache,
		tracker:     tracker,
	}
}

type InvalidateCacheRequest struct {
	// ProjectIDs limits rule invalidation; empty drops every project.
	ProjectIDs []uint `json:"project_ids"`
	// Results also clears the AI result cache.
	Results bool `json:"results"`
}

// CacheStats GET /api/admin/cache/stats
func (h *SystemHandler) CacheStats(c *gin.Context) {
	response.Success(c, gin.H{
		"result_cache": h.resultCache.Stats(),
		"rule_cache":   h.ruleCache.Stats(),
	})
}

// InvalidateCache POST /api/admin/cache/invalidate
func (h *SystemHandler) InvalidateCache(c *gin.Context) {
	var req InvalidateCacheRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	h.ruleCache.Invalidate(req.ProjectIDs...)
	if req.Results {
		h.resultCache.Invalidate()
	}

	response.Success(c, gin.H{
		"message":      "cache invalidated",
		"result_cache": h.resultCache.Stats(),
		"rule_cache":   h.ruleCache.Stats(),
	})
}

// CleanupCache drops expired AI results now
// POST /api/admin/cache/cleanup
func (h *SystemHandler) CleanupCache(c *gin.Context) {
	removed := h.resultCache.Cleanup()
	response.Success(c, gin.H{"removed": removed, "size": h.resultCache.Size()})
}

// ErrorStats GET /api/admin/errors?limit=
func (h *SystemHandler) ErrorStats(c *gin.Context) {
	stats := h.tracker.Stats()
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		stats.LastErrors = h.tracker.Recent(limit)
	}
	response.Success(c, stats)
}

// ResetErrors DELETE /api/admin/errors
func (h *SystemHandler) ResetErrors(c *gin.Context) {
	h.tracker.Reset()
	response.Success(c, gin.H{"message": "error statistics reset"})
}
