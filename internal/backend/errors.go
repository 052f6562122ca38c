package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-success answer from the analysis service.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.StatusCode, e.Message())
}

// Message is the text meant for the user: the server detail when present,
// otherwise the HTTP status text.
func (e *APIError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	if text := http.StatusText(e.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

// UserMessage extracts the user-facing part of an error returned by Client.
func UserMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message()
	}
	return err.Error()
}

func newAPIError(statusCode int, body []byte) *APIError {
	return &APIError{StatusCode: statusCode, Detail: parseDetail(body)}
}

// parseDetail reads FastAPI style {"detail": ...} bodies. Structured details
// (validation errors) are kept as raw JSON.
func parseDetail(body []byte) string {
	var parsed struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}

	raw := strings.TrimSpace(string(parsed.Detail))
	if raw != "" && raw != "null" {
		var text string
		if err := json.Unmarshal(parsed.Detail, &text); err == nil {
			return text
		}
		return raw
	}
	return parsed.Message
}
