package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/config"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrContentRequired  = errors.New("content data required")
	ErrContentTooLarge  = errors.New("content exceeds maximum size")
	ErrMetadataTooLarge = errors.New("metadata exceeds maximum size")
	ErrContentNotFound  = errors.New("content not found")
	ErrUnsupportedType  = errors.New("unsupported content type")
)

const defaultContentPageSize = 20

var supportedContentTypes = map[string]bool{"text": true, "markdown": true, "html": true}

// Moderator runs the pipeline for one stored content item.
type Moderator interface {
	Moderate(ctx context.Context, contentID uint, start time.Time) (*moderation.FinalDecision, error)
}

type ContentService struct {
	db          *gorm.DB
	moderator   Moderator
	queue       TaskQueue
	maxContent  int
	maxMetadata int
}

func NewContentService(db *gorm.DB, moderator Moderator, queue TaskQueue, cfg config.ModerationConfig) *ContentService {
	s := &ContentService{
		db:          db,
		moderator:   moderator,
		queue:       queue,
		maxContent:  cfg.MaxContentBytes,
		maxMetadata: cfg.MaxMetadataBytes,
	}
	if s.maxContent <= 0 {
		s.maxContent = 1 << 20
	}
	if s.maxMetadata <= 0 {
		s.maxMetadata = 10 << 10
	}
	return s
}

type SubmitRequest struct {
	Type     string                 `json:"type"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
	UserID   string                 `json:"user_id"`
	Async    bool                   `json:"async"`
}

type SubmitResult struct {
	Success           bool                      `json:"success"`
	ContentID         uint                      `json:"content_id"`
	ContentUUID       string                    `json:"content_uuid"`
	Status            string                    `json:"status"`
	ModerationResults []models.ModerationResult `json:"moderation_results"`
	// Queued is true when the content was accepted for background moderation.
	Queued bool `json:"-"`
}

// ContentDetail is a content item with decoded metadata.
type ContentDetail struct {
	*models.Content
	MetaData map[string]interface{} `json:"meta_data"`
}

func newContentDetail(c *models.Content) ContentDetail {
	return ContentDetail{Content: c, MetaData: c.Metadata()}
}

type ContentListRequest struct {
	Page    int    `form:"page" binding:"omitempty,min=1"`
	PerPage int    `form:"per_page" binding:"omitempty,min=1"`
	Status  string `form:"status" binding:"omitempty,oneof=pending approved rejected flagged"`
}

type Pagination struct {
	Page    int   `json:"page"`
	Pages   int   `json:"pages"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
	HasNext bool  `json:"has_next"`
	HasPrev bool  `json:"has_prev"`
}

type ContentListResponse struct {
	Items      []ContentDetail `json:"content"`
	Pagination Pagination      `json:"pagination"`
}

// Submit stores the content and moderates it, inline or through the queue.
func (s *ContentService) Submit(ctx context.Context, projectID uint, req *SubmitRequest) (*SubmitResult, error) {
	start := time.Now()

	contentType, metaJSON, userID, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	content := models.Content{
		ProjectID:   projectID,
		ContentType: contentType,
		ContentData: req.Content,
		MetaData:    metaJSON,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if userID != "" {
			apiUserID, err := upsertAPIUser(tx, projectID, userID)
			if err != nil {
				return err
			}
			content.APIUserID = &apiUserID
		}
		return tx.Create(&content).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store content: %w", err)
	}

	if req.Async && s.queue != nil {
		task := &ModerationTask{ContentID: content.ID, ProjectID: projectID, EnqueuedAt: start}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			// The stale-pending sweep picks the item up later.
			logger.Warnf("[Content] Enqueue content %d failed: %v", content.ID, err)
		}
		return &SubmitResult{
			Success:           true,
			ContentID:         content.ID,
			ContentUUID:       content.UUID,
			Status:            models.ContentStatusPending,
			ModerationResults: []models.ModerationResult{},
			Queued:            true,
		}, nil
	}

	decision, err := s.moderator.Moderate(ctx, content.ID, start)
	if err != nil {
		return nil, err
	}

	results := make([]models.ModerationResult, 0, len(decision.Results))
	for i, r := range decision.Results {
		row := models.NewModerationResult(content.ID, i, r)
		row.CategoryMap, row.ScoreMap = r.Categories, r.CategoryScores
		results = append(results, row)
	}
	return &SubmitResult{
		Success:           true,
		ContentID:         content.ID,
		ContentUUID:       content.UUID,
		Status:            string(decision.Decision),
		ModerationResults: results,
	}, nil
}

// validate applies the size limits and returns the normalized type, encoded
// metadata and external user id. A top-level user_id wins over metadata.user_id.
func (s *ContentService) validate(req *SubmitRequest) (contentType, metaJSON, userID string, err error) {
	if strings.TrimSpace(req.Content) == "" {
		return "", "", "", ErrContentRequired
	}
	if len(req.Content) > s.maxContent {
		return "", "", "", fmt.Errorf("%w (%d bytes)", ErrContentTooLarge, s.maxContent)
	}

	contentType = strings.ToLower(strings.TrimSpace(req.Type))
	if contentType == "" {
		contentType = "text"
	}
	if !supportedContentTypes[contentType] {
		return "", "", "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	userID = req.UserID
	if userID == "" {
		if v, ok := req.Metadata["user_id"]; ok && v != nil {
			userID = fmt.Sprint(v)
		}
	}

	if len(req.Metadata) > 0 {
		b, err := json.Marshal(req.Metadata)
		if err != nil {
			return "", "", "", fmt.Errorf("encode metadata: %w", err)
		}
		if len(b) > s.maxMetadata {
			return "", "", "", fmt.Errorf("%w (%d bytes)", ErrMetadataTooLarge, s.maxMetadata)
		}
		metaJSON = string(b)
	}
	return contentType, metaJSON, userID, nil
}

// upsertAPIUser returns the id of the project's API user, creating it on first
// use, and counts the request.
func upsertAPIUser(tx *gorm.DB, projectID uint, externalID string) (uint, error) {
	now := time.Now()
	user := models.APIUser{ProjectID: projectID, ExternalUserID: externalID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
		return 0, fmt.Errorf("create api user: %w", err)
	}
	if err := tx.Where("project_id = ? AND external_user_id = ?", projectID, externalID).First(&user).Error; err != nil {
		return 0, fmt.Errorf("load api user: %w", err)
	}
	err := tx.Model(&models.APIUser{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"total_requests":  gorm.Expr("total_requests + 1"),
		"last_request_at": now,
	}).Error
	if err != nil {
		return 0, fmt.Errorf("count api user request: %w", err)
	}
	return user.ID, nil
}

// Get returns a project's content item with its results in evidence order.
func (s *ContentService) Get(ctx context.Context, projectID, id uint) (*ContentDetail, error) {
	var content models.Content
	err := s.db.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("project_id = ?", projectID).
		First(&content, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrContentNotFound
	}
	if err != nil {
		return nil, err
	}
	detail := newContentDetail(&content)
	return &detail, nil
}

func (s *ContentService) List(ctx context.Context, projectID uint, req *ContentListRequest) (*ContentListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PerPage <= 0 {
		req.PerPage = defaultContentPageSize
	}
	if req.PerPage > 100 {
		req.PerPage = 100
	}

	query := s.db.WithContext(ctx).Model(&models.Content{}).Where("project_id = ?", projectID)
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var contents []models.Content
	offset := (req.Page - 1) * req.PerPage
	if err := query.
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(req.PerPage).
		Find(&contents).Error; err != nil {
		return nil, err
	}

	items := make([]ContentDetail, 0, len(contents))
	for i := range contents {
		items = append(items, newContentDetail(&contents[i]))
	}
	return &ContentListResponse{Items: items, Pagination: newPagination(req.Page, req.PerPage, total)}, nil
}

func newPagination(page, perPage int, total int64) Pagination {
	pages := int((total + int64(perPage) - 1) / int64(perPage))
	return Pagination{
		Page:    page,
		Pages:   pages,
		PerPage: perPage,
		Total:   total,
		HasNext: page < pages,
		HasPrev: page > 1,
	}
}

// Process is the TaskProcessor for queued moderation. Content that is gone
// or already decided is skipped without retry.
func (s *ContentService) Process(ctx context.Context, task *ModerationTask) error {
	var status []string
	if err := s.db.WithContext(ctx).Model(&models.Content{}).Where("id = ?", task.ContentID).Pluck("status", &status).Error; err != nil {
		return err
	}
	if len(status) == 0 {
		logger.Warnf("[Content] Task for missing content %d dropped", task.ContentID)
		return fmt.Errorf("content %d: %w", task.ContentID, asynq.SkipRetry)
	}
	if status[0] != models.ContentStatusPending {
		logger.Debug().Uint("content_id", task.ContentID).Str("status", status[0]).Msg("[Content] Already moderated")
		return nil
	}

	start := task.EnqueuedAt
	if start.IsZero() {
		start = time.Now()
	}
	_, err := s.moderator.Moderate(ctx, task.ContentID, start)
	if errors.Is(err, moderation.ErrContentNotFound) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
