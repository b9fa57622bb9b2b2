package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// RequestIDKey gin context key holding the request id
const RequestIDKey = "request_id"

// RequestLogger 写入结构化请求日志并注入 request_id
// 客户端传入的 X-Request-ID 会被沿用
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(RequestIDKey, reqID)
		c.Writer.Header().Set("X-Request-ID", reqID)

		c.Next()

		duration := time.Since(start)
		attrs := []any{
			"rid", reqID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", duration.Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		if c.Writer.Status() >= 500 {
			logger.L().Error("http_request", attrs...)
			return
		}
		logger.L().Info("http_request", attrs...)
	}
}

// RequestID 返回当前请求的 request_id
func RequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
