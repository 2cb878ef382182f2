package response

import (
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/m-mizutani/goerr/v2"
)

const (
	CodeOK                 = 0
	CodeBadRequest         = 40000
	CodeUnauthorized       = 40100
	CodeForbidden          = 40300
	CodeNotFound           = 40400
	CodeInternalServer     = 50000
	CodeGenerationFailed   = 50200
	CodeServiceUnavailable = 50300
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

// Fail logs err, with its goerr values when it carries any, and writes the
// error envelope. The client only sees message.
func Fail(c *gin.Context, logger *slog.Logger, httpStatus, code int, message string, err error) {
	attrs := []any{
		"status", httpStatus,
		"path", c.FullPath(),
		"error", err,
	}
	var ge *goerr.Error
	if errors.As(err, &ge) {
		attrs = append(attrs, "values", ge.Values())
	}
	if httpStatus >= 500 {
		logger.Error(message, attrs...)
	} else {
		logger.Warn(message, attrs...)
	}
	Error(c, httpStatus, code, message)
}
