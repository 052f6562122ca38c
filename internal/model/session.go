package model

import "time"

// AssistantSession records a backend session id seen for a profile.
type AssistantSession struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ProfileID    uint      `gorm:"not null;uniqueIndex:idx_profile_session" json:"profile_id"`
	SessionID    string    `gorm:"size:64;not null;uniqueIndex:idx_profile_session" json:"session_id"`
	MessageCount int       `gorm:"not null;default:0" json:"message_count"`
	ScanCount    int       `gorm:"not null;default:0" json:"scan_count"`
	LastActiveAt time.Time `json:"last_active_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
