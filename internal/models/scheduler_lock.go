package models

import "time"

// SchedulerLock is a lease on a periodic job, so that only one replica runs a
// given job at a time.
type SchedulerLock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Job       string    `gorm:"uniqueIndex;size:100;not null" json:"job"`
	Owner     string    `gorm:"size:100" json:"owner"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SchedulerLock) TableName() string { return "scheduler_locks" }
