package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"gorm.io/gorm"
)

var ErrContentPending = errors.New("content has not been moderated yet")

// ManualReviewService lets reviewers settle flagged content. A manual decision
// is appended to the evidence trail and moves the API user's counters.
type ManualReviewService struct {
	db       *gorm.DB
	notifier *NotificationService
}

func NewManualReviewService(db *gorm.DB, notifier *NotificationService) *ManualReviewService {
	return &ManualReviewService{db: db, notifier: notifier}
}

type ReviewQueueRequest struct {
	ProjectID uint `form:"project_id"`
	Page      int  `form:"page" binding:"omitempty,min=1"`
	PerPage   int  `form:"per_page" binding:"omitempty,min=1"`
}

type ReviewDecisionRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approved rejected"`
	Reason   string `json:"reason" binding:"max=1000"`
	Notes    string `json:"notes" binding:"max=2000"`
}

type BulkDecisionRequest struct {
	ContentIDs []uint `json:"content_ids" binding:"required,min=1,max=100"`
	Decision   string `json:"decision" binding:"required,oneof=approved rejected"`
	Reason     string `json:"reason" binding:"required,max=1000"`
	Notes      string `json:"notes" binding:"max=2000"`
}

// Reviewer identifies who made a manual decision.
type Reviewer struct {
	ID       uint
	Username string
}

// Queue lists flagged content, oldest first.
func (s *ManualReviewService) Queue(ctx context.Context, req *ReviewQueueRequest) (*ContentListResponse, error) {
	page, perPage := req.Page, req.PerPage
	if page == 0 {
		page = 1
	}
	if perPage == 0 {
		perPage = defaultContentPageSize
	}
	if perPage > 100 {
		perPage = 100
	}

	query := s.db.WithContext(ctx).Model(&models.Content{}).Where("status = ?", models.ContentStatusFlagged)
	if req.ProjectID > 0 {
		query = query.Where("project_id = ?", req.ProjectID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var contents []models.Content
	if err := query.Order("created_at ASC, id ASC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Find(&contents).Error; err != nil {
		return nil, err
	}

	items := make([]ContentDetail, 0, len(contents))
	for i := range contents {
		items = append(items, newContentDetail(&contents[i]))
	}
	return &ContentListResponse{Items: items, Pagination: newPagination(page, perPage, total)}, nil
}

// Decide records a reviewer's verdict on one content item.
func (s *ManualReviewService) Decide(ctx context.Context, contentID uint, reviewer Reviewer, req *ReviewDecisionRequest) (*ContentDetail, error) {
	var content models.Content
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.decide(tx, contentID, reviewer, req.Decision, req.Reason, req.Notes, &content)
	})
	if err != nil {
		return nil, err
	}
	s.broadcast(&content)

	logger.Infof("[Review] Content %d %s by %s", contentID, req.Decision, reviewer.Username)
	detail := newContentDetail(&content)
	return &detail, nil
}

// BulkDecide applies one verdict to several items atomically. Every id must exist.
func (s *ManualReviewService) BulkDecide(ctx context.Context, reviewer Reviewer, req *BulkDecisionRequest) (int, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return 0, fmt.Errorf("reason is required")
	}

	decided := make([]models.Content, len(req.ContentIDs))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, id := range req.ContentIDs {
			if err := s.decide(tx, id, reviewer, req.Decision, req.Reason, req.Notes, &decided[i]); err != nil {
				return fmt.Errorf("content %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for i := range decided {
		s.broadcast(&decided[i])
	}

	logger.Infof("[Review] %d items %s by %s", len(decided), req.Decision, reviewer.Username)
	return len(decided), nil
}

func (s *ManualReviewService) decide(tx *gorm.DB, contentID uint, reviewer Reviewer, decision, reason, notes string, out *models.Content) error {
	if err := tx.First(out, contentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrContentNotFound
		}
		return err
	}
	if out.Status == models.ContentStatusPending {
		return ErrContentPending
	}
	previous := out.Status

	if reason == "" {
		reason = "Manual review decision"
	}
	if notes != "" {
		reason += "\n" + notes
	}

	var position int
	if err := tx.Model(&models.ModerationResult{}).
		Where("content_id = ?", contentID).
		Select("COALESCE(MAX(position), -1) + 1").
		Scan(&position).Error; err != nil {
		return err
	}
	result := models.ModerationResult{
		ContentID:     contentID,
		Position:      position,
		Decision:      decision,
		Confidence:    1.0,
		Reason:        reason,
		ModeratorType: string(moderation.ModeratorManual),
		ModeratorName: reviewer.Username,
	}
	if err := tx.Create(&result).Error; err != nil {
		return err
	}
	if err := tx.Model(out).Update("status", decision).Error; err != nil {
		return err
	}
	out.Status = decision

	if out.APIUserID != nil && previous != decision {
		updates := map[string]interface{}{"last_request_at": time.Now()}
		if col := decisionCounter(moderation.Decision(previous)); col != "" {
			updates[col] = gorm.Expr(col + " - 1")
		}
		if col := decisionCounter(moderation.Decision(decision)); col != "" {
			updates[col] = gorm.Expr(col + " + 1")
		}
		if err := tx.Model(&models.APIUser{}).Where("id = ?", *out.APIUserID).Updates(updates).Error; err != nil {
			return err
		}
	}

	if err := tx.Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).First(out, contentID).Error; err != nil {
		return err
	}
	return nil
}

func (s *ManualReviewService) broadcast(content *models.Content) {
	if s.notifier == nil || len(content.Results) == 0 {
		return
	}
	last := content.Results[len(content.Results)-1]
	s.notifier.Broadcast(content.ToModeration(), &moderation.FinalDecision{
		ContentID: content.ID,
		Decision:  moderation.Decision(content.Status),
		Results: []moderation.RuleResult{{
			Decision:      moderation.Decision(last.Decision),
			Confidence:    last.Confidence,
			Reason:        last.Reason,
			ModeratorType: moderation.ModeratorManual,
		}},
	})
}
