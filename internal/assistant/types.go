package assistant

import (
	"context"
	"time"

	"mediassist/internal/backend"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem marks local notices. They are never sent to the backend.
	RoleSystem Role = "system"
)

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ScanRecord struct {
	Filename  string `json:"filename"`
	Timestamp string `json:"timestamp"`
	Analysis  string `json:"analysis"`
	ImageType string `json:"image_type,omitempty"`
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Tab string

const (
	TabChat    Tab = "chat"
	TabScan    Tab = "scan"
	TabHistory Tab = "history"
)

func ParseTab(raw string) (Tab, error) {
	switch Tab(raw) {
	case TabChat, TabScan, TabHistory:
		return Tab(raw), nil
	default:
		return "", ErrUnknownTab
	}
}

type UploadState string

const (
	UploadIdle      UploadState = "idle"
	UploadUploading UploadState = "uploading"
	UploadError     UploadState = "error"
)

type ChatState string

const (
	ChatIdle    ChatState = "idle"
	ChatSending ChatState = "sending"
	ChatError   ChatState = "error"
)

// SelectionView is the part of a pending scan selection that is safe to render.
type SelectionView struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Preview     string `json:"preview"`
}

type Snapshot struct {
	SessionID    string         `json:"session_id,omitempty"`
	Messages     []ChatMessage  `json:"messages"`
	Selection    *SelectionView `json:"selection,omitempty"`
	Analysis     string         `json:"analysis"`
	Insights     []Insight      `json:"insights"`
	History      []ScanRecord   `json:"history"`
	Notification *Notification  `json:"notification,omitempty"`
	ActiveTab    Tab            `json:"active_tab"`
	VisibleTabs  []Tab          `json:"visible_tabs"`
	UploadState  UploadState    `json:"upload_state"`
	ChatState    ChatState      `json:"chat_state"`
}

// Backend is the subset of the analysis service a session talks to.
type Backend interface {
	GetSession(ctx context.Context, sessionID string) (*backend.SessionInfo, error)
	AnalyzeScan(ctx context.Context, req backend.AnalyzeRequest) (*backend.AnalyzeResponse, error)
	Chat(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error)
}

// SessionStore persists the backend session identifier between runs.
type SessionStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type EventKind string

const (
	EventMessageAppended EventKind = "message_appended"
	EventScanAnalyzed    EventKind = "scan_analyzed"
)

type Event struct {
	Kind      EventKind    `json:"kind"`
	SessionID string       `json:"session_id,omitempty"`
	Message   *ChatMessage `json:"message,omitempty"`
	Scan      *ScanRecord  `json:"scan,omitempty"`
	At        time.Time    `json:"at"`
}

// EventSink receives committed state changes, e.g. for archiving.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}
