package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/hub"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// statusResponse 返回只带状态消息的响应
func statusResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"status": message,
	})
}

// badRequestResponse 返回 400 响应
func badRequestResponse(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"status": message,
		"code":   pipeline.INVALID_REQUEST,
	})
}

// notFoundResponse 返回 404 响应
func notFoundResponse(c *gin.Context, resource string) {
	c.JSON(http.StatusNotFound, gin.H{
		"status": resource + " not found",
	})
}

// errorResponse 按错误类别返回响应，协作组件错误只暴露截断后的摘要
func errorResponse(c *gin.Context, err error) {
	code := httpStatus(err)
	body := gin.H{"status": pipeline.Message(err)}
	if ec := pipeline.CodeOf(err); ec != "" {
		body["code"] = ec
	}
	if code >= http.StatusInternalServerError {
		logger.L().Error("request failed", "path", c.FullPath(), "status", code, "error", err)
	}
	c.JSON(code, body)
}

// httpStatus 将错误映射为 HTTP 状态码
func httpStatus(err error) int {
	switch {
	case errors.Is(err, hub.ErrNoToken), errors.Is(err, hub.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, hub.ErrNotFound):
		return http.StatusNotFound
	}

	pe, ok := pipeline.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch pe.Kind {
	case pipeline.KindPrecondition:
		if pe.Code == pipeline.STAGE_BUSY {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case pipeline.KindResource:
		if pe.Code == pipeline.DISK_FULL {
			return http.StatusInsufficientStorage
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
