package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"flipwatch/internal/application/port"
	"flipwatch/internal/application/service"
)

// Response 统一响应信封
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo 错误详情
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternal        = "INTERNAL_ERROR"
)

func success(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message, RequestID: requestID(c)},
	})
}

func badRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, CodeInvalidArgument, message)
}

// writeError 把应用层哨兵错误映射为 HTTP 状态码
func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", requestID(c)).Str("path", c.FullPath()).Msg("request failed")
		fail(c, status, code, "internal error")
		return
	}
	fail(c, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, port.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, service.ErrInvalidQuery),
		errors.Is(err, service.ErrInvalidArgument),
		errors.Is(err, service.ErrUnknownSource):
		return http.StatusBadRequest, CodeInvalidArgument
	case errors.Is(err, service.ErrSyncInProgress),
		errors.Is(err, port.ErrCursorConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, port.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
