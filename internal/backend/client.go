package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// Client talks to the scan analysis and chat service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for baseURL. A zero timeout leaves requests bounded
// only by the caller's context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/session/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("build session request failed: %w", err)
	}

	status, raw, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("session request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, newAPIError(status, raw)
	}

	var info SessionInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("parse session json failed: %w", err)
	}
	return &info, nil
}

func (c *Client) AnalyzeScan(ctx context.Context, in AnalyzeRequest) (*AnalyzeResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(in.Filename)))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create file part failed: %w", err)
	}
	if _, err := part.Write(in.Data); err != nil {
		return nil, fmt.Errorf("write file part failed: %w", err)
	}
	if in.SessionID != "" {
		if err := writer.WriteField("session_id", in.SessionID); err != nil {
			return nil, fmt.Errorf("write session field failed: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/analyze-scan", &body)
	if err != nil {
		return nil, fmt.Errorf("build analyze request failed: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out AnalyzeResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Chat(ctx context.Context, in ChatRequest) (*ChatResponse, error) {
	if in.Messages == nil {
		in.Messages = []ChatMessage{}
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out ChatResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SimpleChat sends a single message without transcript; the server keeps the context.
func (c *Client) SimpleChat(ctx context.Context, message, sessionID string) (*ChatResponse, error) {
	form := url.Values{}
	form.Set("message", message)
	if sessionID != "" {
		form.Set("session_id", sessionID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/simple-chat", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build simple chat request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out ChatResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/healthcheck", nil)
	if err != nil {
		return nil, fmt.Errorf("build health request failed: %w", err)
	}

	var out HealthStatus
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(req *http.Request, out interface{}) error {
	status, raw, err := c.do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	if status < 200 || status >= 300 {
		return newAPIError(status, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse %s response failed: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("backend request failed", "request_id", requestID, "path", req.URL.Path, "error", err)
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response failed: %w", err)
	}
	slog.Debug("backend request done",
		"request_id", requestID,
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	return resp.StatusCode, raw, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")
