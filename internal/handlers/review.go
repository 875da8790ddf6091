package handlers

import (
	"errors"
	"strconv"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/middleware"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/services"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/response"
	"github.com/gin-gonic/gin"
)

// ReviewHandler serves the manual review queue for flagged content.
type ReviewHandler struct {
	reviewService *services.ManualReviewService
}

func NewReviewHandler(reviewService *services.ManualReviewService) *ReviewHandler {
	return &ReviewHandler{reviewService: reviewService}
}

// Queue GET /api/admin/review?project_id=&page=&per_page=
func (h *ReviewHandler) Queue(c *gin.Context) {
	var req services.ReviewQueueRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.reviewService.Queue(c.Request.Context(), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, resp)
}

// Decide POST /api/admin/review/:content_id/decision
func (h *ReviewHandler) Decide(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("content_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid content id")
		return
	}

	var req services.ReviewDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	detail, err := h.reviewService.Decide(c.Request.Context(), uint(id), reviewer(c), &req)
	if err != nil {
		reviewError(c, err)
		return
	}

	response.Success(c, detail)
}

// BulkDecide POST /api/admin/review/bulk-decision
func (h *ReviewHandler) BulkDecide(c *gin.Context) {
	var req services.BulkDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	n, err := h.reviewService.BulkDecide(c.Request.Context(), reviewer(c), &req)
	if err != nil {
		reviewError(c, err)
		return
	}

	response.Success(c, gin.H{"processed": n, "decision": req.Decision})
}

func reviewer(c *gin.Context) services.Reviewer {
	return services.Reviewer{ID: middleware.GetUserID(c), Username: middleware.GetUsername(c)}
}

func reviewError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrContentNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, services.ErrContentPending):
		response.Error(c, response.NewConflict(err.Error()))
	default:
		response.BadRequest(c, err.Error())
	}
}
