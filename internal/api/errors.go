package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"talent-radar/internal/apperr"
	"talent-radar/internal/model"
	"talent-radar/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor 将错误类别映射为 HTTP 状态码。
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindConfiguration:
		return http.StatusServiceUnavailable
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindExternalService, apperr.KindUnparsable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": string(apperr.KindOf(err))})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": string(apperr.KindInvalidInput)})
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " disabled"})
}

func lookupError(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, op, err)
	}
	return apperr.Wrap(apperr.KindPersistence, op, err)
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid id "+strconv.Quote(c.Param("id")))
		return 0, false
	}
	return uint(id), true
}

func documentKind(c *gin.Context, v string) (model.DocumentKind, bool) {
	switch model.DocumentKind(v) {
	case "", model.DocumentCV:
		return model.DocumentCV, true
	case model.DocumentJobDescription:
		return model.DocumentJobDescription, true
	default:
		badRequest(c, "unknown document kind "+strconv.Quote(v))
		return "", false
	}
}

// optionalJSON 允许空请求体。
func optionalJSON(c *gin.Context, v any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid payload: "+err.Error())
		return false
	}
	return true
}
