package model

import "time"

// ChatMessage is an archived transcript entry. EventID makes redelivered
// queue messages idempotent.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EventID   string    `gorm:"size:36;not null;uniqueIndex" json:"-"`
	ProfileID uint      `gorm:"not null;index" json:"profile_id"`
	SessionID string    `gorm:"size:64;index" json:"session_id,omitempty"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
