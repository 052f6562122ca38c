package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mediassist/internal/app"
	"mediassist/internal/assistant"
	"mediassist/internal/backend"
	"mediassist/internal/scan"
	"mediassist/internal/transport/http/middleware"
	"mediassist/internal/transport/http/response"
)

type AssistantHandler struct {
	assistantService *app.AssistantService
	maxScanBytes     int64
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type SetTabRequest struct {
	Tab string `json:"tab" binding:"required"`
}

func NewAssistantHandler(assistantService *app.AssistantService, maxScanBytes int64) *AssistantHandler {
	if maxScanBytes <= 0 {
		maxScanBytes = scan.MaxBytes
	}
	return &AssistantHandler{assistantService: assistantService, maxScanBytes: maxScanBytes}
}

func (h *AssistantHandler) State(c *gin.Context) {
	profileID, ok := requireProfile(c)
	if !ok {
		return
	}
	snap, err := h.assistantService.State(c.Request.Context(), profileID)
	if err != nil {
		writeAssistantError(c, nil, err)
		return
	}
	response.OK(c, snap)
}

// SelectScan takes a multipart "file" field. Oversized files are rejected
// from their declared size without reading the body.
func (h *AssistantHandler) SelectScan(c *gin.Context) {
	profileID, ok := requireProfile(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file field")
		return
	}

	file := scan.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
	}
	if header.Size <= h.maxScanBytes {
		data, err := readFormFile(header, h.maxScanBytes)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read file failed")
			return
		}
		file.Data = data
		if n := int64(len(data)); n > file.Size {
			file.Size = n
		}
	}

	snap, err := h.assistantService.SelectScan(c.Request.Context(), profileID, file)
	if err != nil {
		writeAssistantError(c, &snap, err)
		return
	}
	response.OK(c, snap)
}

func (h *AssistantHandler) ClearScan(c *gin.Context) {
	profileID, ok := requireProfile(c)
	if !ok {
		return
	}
	snap, err := h.assistantService.ClearScan(c.Request.Context(), profileID)
	if err != nil {
		writeAssistantError(c, nil, err)
		return
	}
	response.OK(c, snap)
}

func (h *AssistantHandler) AnalyzeScan(c *gin.Context) {
	profileID, ok := requireProfile(c)
	if !ok {
		return
	}
	snap, err := h.assistantService.AnalyzeScan(c.Request.Context(), profileID)
	if err != nil {
		writeAssistantError(c, &snap, err)
		return
	}
	response.OK(c, snap)
}

func (h *AssistantHandler) SendMessage(c *gin.Context) {
	profileID, ok := requireProfile(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeEmptyMessage, "message content is required")
		return
	}

	snap, err := h.assistantService.SendMessage(c.Request.Context(), profileID, req.Content)
	if err != nil {
		writeAssistantError(c, &snap, err)
		return
	}
	response.OK(c, snap)
}

func (h *AssistantHandler) SetTab(c *gin.Context) {
	profileID, ok := requireProfile(c)
	if !ok {
		return
	}

	var req SetTabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	tab, err := assistant.ParseTab(req.Tab)
	if err != nil {
		writeAssistantError(c, nil, err)
		return
	}

	snap, err := h.assistantService.SetTab(c.Request.Context(), profileID, tab)
	if err != nil {
		writeAssistantError(c, &snap, err)
		return
	}
	response.OK(c, snap)
}

func (h *AssistantHandler) ScanArchive(c *gin.Context) {
	profileID, ok := requireProfile(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	records, err := h.assistantService.ScanArchive(c.Request.Context(), profileID, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list scan archive failed")
		return
	}
	response.OK(c, records)
}

func (h *AssistantHandler) SessionArchive(c *gin.Context) {
	profileID, ok := requireProfile(c)
	if !ok {
		return
	}
	sessions, err := h.assistantService.SessionArchive(c.Request.Context(), profileID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list sessions failed")
		return
	}
	response.OK(c, sessions)
}

func (h *AssistantHandler) MessageArchive(c *gin.Context) {
	profileID, ok := requireProfile(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	messages, err := h.assistantService.MessageArchive(c.Request.Context(), profileID, c.Param("session_id"), limit)
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list messages failed")
		return
	}
	response.OK(c, messages)
}

func requireProfile(c *gin.Context) (uint, bool) {
	profileID, ok := middleware.ProfileID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return 0, false
	}
	return profileID, true
}

func readFormFile(header *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload failed: %w", err)
	}
	return data, nil
}

// writeAssistantError maps session errors onto the response envelope. The
// snapshot, when present, lets clients re-render the state after a failure.
func writeAssistantError(c *gin.Context, snap *assistant.Snapshot, err error) {
	status, code, message := http.StatusInternalServerError, response.CodeInternalServer, "assistant request failed"

	var apiErr *backend.APIError
	switch {
	case errors.Is(err, app.ErrProfileRequired):
		status, code, message = http.StatusUnauthorized, response.CodeUnauthorized, err.Error()
	case errors.Is(err, scan.ErrTooLarge):
		status, code, message = http.StatusRequestEntityTooLarge, response.CodeScanTooLarge, err.Error()
	case errors.Is(err, scan.ErrUnsupportedType):
		status, code, message = http.StatusBadRequest, response.CodeUnsupportedScan, err.Error()
	case errors.Is(err, assistant.ErrNoSelection):
		status, code, message = http.StatusBadRequest, response.CodeNoSelection, err.Error()
	case errors.Is(err, assistant.ErrEmptyMessage):
		status, code, message = http.StatusBadRequest, response.CodeEmptyMessage, err.Error()
	case errors.Is(err, assistant.ErrUnknownTab):
		status, code, message = http.StatusBadRequest, response.CodeUnknownTab, err.Error()
	case errors.Is(err, assistant.ErrBusy):
		status, code, message = http.StatusConflict, response.CodeBusy, err.Error()
	case errors.As(err, &apiErr):
		status, code, message = http.StatusBadGateway, response.CodeBackendFailed, apiErr.Message()
	default:
		if snap != nil {
			status, code, message = http.StatusBadGateway, response.CodeBackendUnreachable, "analysis service unavailable"
		}
	}

	if snap != nil {
		response.ErrorWithData(c, status, code, message, snap)
		return
	}
	response.Error(c, status, code, message)
}
