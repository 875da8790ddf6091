package models

import (
	"encoding/json"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"gorm.io/gorm"
)

// ModerationResult is one entry of a content item's evidence trail.
type ModerationResult struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ContentID      uint      `gorm:"index;not null" json:"content_id"`
	RuleID         *uint     `gorm:"index" json:"rule_id"`
	Position       int       `gorm:"default:0" json:"position"`
	Decision       string    `gorm:"size:20;not null" json:"decision"`
	Confidence     float64   `json:"confidence"`
	Reason         string    `gorm:"type:text" json:"reason"`
	ModeratorType  string    `gorm:"size:20" json:"moderator_type"` // rule, ai, system
	ModeratorName  string    `gorm:"size:200" json:"moderator_name"`
	Categories     string    `gorm:"type:text" json:"-"`
	CategoryScores string    `gorm:"type:text" json:"-"`
	ProcessingTime float64   `json:"processing_time"` // seconds
	CreatedAt      time.Time `json:"created_at"`

	CategoryMap map[string]bool    `gorm:"-" json:"categories,omitempty"`
	ScoreMap    map[string]float64 `gorm:"-" json:"category_scores,omitempty"`
}

func (ModerationResult) TableName() string { return "moderation_results" }

func (r *ModerationResult) AfterFind(*gorm.DB) error {
	if r.Categories != "" {
		_ = json.Unmarshal([]byte(r.Categories), &r.CategoryMap)
	}
	if r.CategoryScores != "" {
		_ = json.Unmarshal([]byte(r.CategoryScores), &r.ScoreMap)
	}
	return nil
}

// NewModerationResult converts a pipeline result for storage.
func NewModerationResult(contentID uint, position int, r moderation.RuleResult) ModerationResult {
	name := r.RuleName
	if name == "" {
		name = string(r.ModeratorType)
	}
	out := ModerationResult{
		ContentID:      contentID,
		RuleID:         r.RuleID,
		Position:       position,
		Decision:       string(r.Decision),
		Confidence:     r.Confidence,
		Reason:         r.Reason,
		ModeratorType:  string(r.ModeratorType),
		ModeratorName:  name,
		ProcessingTime: r.ProcessingTime.Seconds(),
	}
	if len(r.Categories) > 0 {
		b, _ := json.Marshal(r.Categories)
		out.Categories = string(b)
	}
	if len(r.CategoryScores) > 0 {
		b, _ := json.Marshal(r.CategoryScores)
		out.CategoryScores = string(b)
	}
	return out
}
