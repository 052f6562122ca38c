package model

import "time"

type ScanRecord struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	EventID   string `gorm:"size:36;not null;uniqueIndex" json:"-"`
	ProfileID uint   `gorm:"not null;index" json:"profile_id"`
	SessionID string `gorm:"size:64;index" json:"session_id,omitempty"`
	Filename  string `gorm:"size:255;not null" json:"filename"`
	ImageType string `gorm:"size:64" json:"image_type,omitempty"`
	// AnalyzedAt is the timestamp reported by the analysis service, kept verbatim.
	AnalyzedAt string    `gorm:"size:64" json:"analyzed_at"`
	Analysis   string    `gorm:"type:text;not null" json:"analysis"`
	CreatedAt  time.Time `json:"created_at"`
}
