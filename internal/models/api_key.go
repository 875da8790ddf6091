package models

import (
	"time"

	"gorm.io/gorm"
)

// APIKey authenticates moderation API calls for one project.
type APIKey struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	ProjectID  uint           `gorm:"index;not null" json:"project_id"`
	Name       string         `gorm:"size:100;not null" json:"name"`
	Key        string         `gorm:"uniqueIndex;size:100;not null" json:"-"`
	IsActive   bool           `gorm:"default:true" json:"is_active"`
	LastUsedAt *time.Time     `json:"last_used_at"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`

	KeyMask string `gorm:"-" json:"key_mask"`
}

func (APIKey) TableName() string { return "api_keys" }
