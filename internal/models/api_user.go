package models

import "time"

// APIUser tracks moderation outcomes for an end user of a client application,
// identified by the client's own user id.
type APIUser struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ProjectID      uint       `gorm:"uniqueIndex:idx_api_user_project_ext;not null" json:"project_id"`
	ExternalUserID string     `gorm:"uniqueIndex:idx_api_user_project_ext;size:255;not null" json:"external_user_id"`
	TotalRequests  int64      `gorm:"default:0" json:"total_requests"`
	Approved       int64      `gorm:"default:0" json:"approved"`
	Rejected       int64      `gorm:"default:0" json:"rejected"`
	Flagged        int64      `gorm:"default:0" json:"flagged"`
	LastRequestAt  *time.Time `json:"last_request_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (APIUser) TableName() string { return "api_users" }

// ApprovalRate is the share of decided requests that were approved, in percent.
func (u *APIUser) ApprovalRate() float64 {
	decided := u.Approved + u.Rejected + u.Flagged
	if decided == 0 {
		return 0
	}
	return float64(u.Approved) / float64(decided) * 100
}
