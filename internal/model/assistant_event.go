package model

import "time"

const (
	EventKindMessage = "message_appended"
	EventKindScan    = "scan_analyzed"
)

// AssistantEvent is the queue payload for one committed session change.
type AssistantEvent struct {
	EventID    string    `json:"event_id"`
	Kind       string    `json:"kind"`
	ProfileID  uint      `json:"profile_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Role       string    `json:"role,omitempty"`
	Content    string    `json:"content,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	ImageType  string    `json:"image_type,omitempty"`
	AnalyzedAt string    `json:"analyzed_at,omitempty"`
	Analysis   string    `json:"analysis,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
