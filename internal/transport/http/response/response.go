package response

import "github.com/gin-gonic/gin"

const (
	CodeOK                 = 0
	CodeBadRequest         = 40000
	CodeUsernameExists     = 40001
	CodeEmailExists        = 40002
	CodeNoSelection        = 40003
	CodeEmptyMessage       = 40004
	CodeUnknownTab         = 40005
	CodeUnsupportedScan    = 40006
	CodeUnauthorized       = 40100
	CodeInvalidCredentials = 40101
	CodeProfileNotFound    = 40401
	CodeBusy               = 40900
	CodeScanTooLarge       = 41300
	CodeInternalServer     = 50000
	CodeBackendFailed      = 50200
	CodeBackendUnreachable = 50201
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// ErrorWithData is Error plus a payload, e.g. the state left behind by a failed action.
func ErrorWithData(c *gin.Context, httpStatus, code int, message string, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}
