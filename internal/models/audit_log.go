package models

import "time"

// AuditLog records one admin write operation.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Level     string    `gorm:"size:20;index" json:"level"` // info, warning
	Module    string    `gorm:"size:100;index" json:"module"`
	Action    string    `gorm:"size:50;index" json:"action"`
	Method    string    `gorm:"size:10" json:"method"`
	Path      string    `gorm:"size:500" json:"path"`
	Status    int       `json:"status"`
	UserID    *uint     `gorm:"index" json:"user_id"`
	Username  string    `gorm:"size:100" json:"username"`
	IP        string    `gorm:"size:50" json:"ip"`
	UserAgent string    `gorm:"size:500" json:"user_agent"`
	Body      string    `gorm:"type:text" json:"body"` // masked request body
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
