package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"gorm.io/gorm"
)

// ModerationStore is the gorm implementation of moderation.Store.
type ModerationStore struct {
	db *gorm.DB
}

func NewModerationStore(db *gorm.DB) *ModerationStore {
	return &ModerationStore{db: db}
}

// ListActiveRules returns the project's active rules. Rules whose payload
// cannot be decoded are skipped with a warning.
func (s *ModerationStore) ListActiveRules(ctx context.Context, projectID uint) ([]moderation.Rule, error) {
	var records []models.ModerationRule
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND is_active = ?", projectID, true).
		Order("priority DESC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	rules := make([]moderation.Rule, 0, len(records))
	for i := range records {
		rule, err := records[i].Rule()
		if err != nil {
			logger.Warnf("[Store] Skipping rule %d of project %d: %v", records[i].ID, projectID, err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s *ModerationStore) GetRuleByID(ctx context.Context, id uint) (*moderation.Rule, error) {
	var record models.ModerationRule
	if err := s.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return nil, err
	}
	rule, err := record.Rule()
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *ModerationStore) GetContent(ctx context.Context, id uint) (*moderation.Content, error) {
	var content models.Content
	if err := s.db.WithContext(ctx).First(&content, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, moderation.ErrContentNotFound
		}
		return nil, err
	}
	return content.ToModeration(), nil
}

// SaveDecision writes the content status, its result rows and the API user's
// counters in one transaction.
func (s *ModerationStore) SaveDecision(ctx context.Context, content *moderation.Content, decision *moderation.FinalDecision) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Content{}).Where("id = ?", content.ID).Update("status", string(decision.Decision))
		if res.Error != nil {
			return fmt.Errorf("update status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return moderation.ErrContentNotFound
		}

		if len(decision.Results) > 0 {
			rows := make([]models.ModerationResult, 0, len(decision.Results))
			for i, r := range decision.Results {
				rows = append(rows, models.NewModerationResult(content.ID, i, r))
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("insert results: %w", err)
			}
		}

		if content.APIUserID != nil {
			if col := decisionCounter(decision.Decision); col != "" {
				err := tx.Model(&models.APIUser{}).Where("id = ?", *content.APIUserID).Updates(map[string]interface{}{
					col:               gorm.Expr(col + " + 1"),
					"last_request_at": time.Now(),
				}).Error
				if err != nil {
					return fmt.Errorf("update api user: %w", err)
				}
			}
		}
		return nil
	})
}

func decisionCounter(d moderation.Decision) string {
	switch d {
	case moderation.DecisionApproved:
		return "approved"
	case moderation.DecisionRejected:
		return "rejected"
	case moderation.DecisionFlagged:
		return "flagged"
	}
	return ""
}

// StalePending returns ids of content still pending after olderThan.
func (s *ModerationStore) StalePending(ctx context.Context, olderThan time.Duration, limit int) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Content{}).
		Where("status = ? AND created_at < ?", models.ContentStatusPending, time.Now().Add(-olderThan)).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
