package models

import (
	"encoding/json"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ContentStatusPending  = "pending"
	ContentStatusApproved = "approved"
	ContentStatusRejected = "rejected"
	ContentStatusFlagged  = "flagged"
)

// Content is a submitted item and its current moderation status.
type Content struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UUID        string    `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	ProjectID   uint      `gorm:"index;not null" json:"project_id"`
	APIUserID   *uint     `gorm:"index" json:"api_user_id"`
	ContentType string    `gorm:"size:50;not null;default:text" json:"content_type"`
	ContentData string    `gorm:"type:text;not null" json:"content_data"`
	MetaData    string    `gorm:"type:text" json:"-"`
	Status      string    `gorm:"size:20;index;default:pending" json:"status"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Results []ModerationResult `gorm:"foreignKey:ContentID" json:"moderation_results,omitempty"`
}

func (Content) TableName() string { return "contents" }

func (c *Content) BeforeCreate(*gorm.DB) error {
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = ContentStatusPending
	}
	return nil
}

// Metadata decodes MetaData. Invalid JSON yields an empty map.
func (c *Content) Metadata() map[string]interface{} {
	out := map[string]interface{}{}
	if c.MetaData != "" {
		_ = json.Unmarshal([]byte(c.MetaData), &out)
	}
	return out
}

// ToModeration returns the pipeline view of the content.
func (c *Content) ToModeration() *moderation.Content {
	return &moderation.Content{
		ID:          c.ID,
		ProjectID:   c.ProjectID,
		APIUserID:   c.APIUserID,
		ContentType: c.ContentType,
		Data:        c.ContentData,
		Metadata:    c.Metadata(),
	}
}
