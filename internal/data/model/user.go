package model

import "time"

// User is an account that owns scans, vulnerabilities and reports.
type User struct {
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	Email        string    `json:"email" gorm:"uniqueIndex;size:255;not null"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-" gorm:"not null"`
	// MaxConcurrentScans and MaxDailyScans override the configured limits when non-zero.
	MaxConcurrentScans int  `json:"max_concurrent_scans,omitempty"`
	MaxDailyScans      int  `json:"max_daily_scans,omitempty"`
	IsActive           bool `json:"is_active" gorm:"default:true"`
}

// AllModels lists every persisted model in migration order.
func AllModels() []interface{} {
	return []interface{}{&User{}, &Scan{}, &Vulnerability{}, &ReportTemplate{}, &Report{}}
}
