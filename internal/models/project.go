package models

import (
	"time"

	"gorm.io/gorm"
)

// Project groups rules, API keys and moderated content.
type Project struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	Name              string         `gorm:"size:200;not null" json:"name"`
	Description       string         `gorm:"type:text" json:"description"`
	OwnerID           uint           `gorm:"index" json:"owner_id"`
	DiscordWebhookURL string         `gorm:"size:500" json:"-"`
	DiscordEnabled    bool           `gorm:"default:false" json:"discord_enabled"`
	NotifyOnReject    bool           `gorm:"default:true" json:"notify_on_reject"`
	NotifyOnFlag      bool           `gorm:"default:false" json:"notify_on_flag"`
	LLMConfigID       *uint          `gorm:"column:llm_config_id" json:"llm_config_id"` // pinned provider, optional
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`

	HasDiscordWebhook bool `gorm:"-" json:"has_discord_webhook"`
}

func (Project) TableName() string { return "projects" }

func (p *Project) AfterFind(*gorm.DB) error {
	p.HasDiscordWebhook = p.DiscordWebhookURL != ""
	return nil
}
