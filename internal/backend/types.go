package backend

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages  []ChatMessage `json:"messages"`
	SessionID string        `json:"session_id,omitempty"`
}

type ChatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id,omitempty"`
}

type AnalyzeRequest struct {
	Filename    string
	ContentType string
	Data        []byte
	SessionID   string
}

type AnalyzeResponse struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
	Timestamp string `json:"timestamp"`
	Analysis  string `json:"analysis"`
	ImageType string `json:"image_type"`
}

type AnalysisRecord struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Timestamp   string `json:"timestamp"`
	Analysis    string `json:"analysis"`
}

type SessionInfo struct {
	SessionID      string          `json:"session_id"`
	CreatedAt      string          `json:"created_at"`
	AnalysisCount  int             `json:"analysis_count"`
	ChatCount      int             `json:"chat_count"`
	LatestAnalysis *AnalysisRecord `json:"latest_analysis"`
}

type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}
