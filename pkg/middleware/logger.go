package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// contextKeyLogFields はハンドラがリクエストログに項目を追加するためのキー。
const contextKeyLogFields = "log_fields"

// RequestLogger はリクエストごとに1行の構造化ログを出力するGinミドルウェアを返す。
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		fields := logrus.Fields{}
		c.Set(contextKeyLogFields, fields)

		c.Next()

		entry := logger.WithFields(fields).WithFields(logrus.Fields{
			"request_id": GetRequestID(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		})
		if userID := GetUserID(c); userID != "" {
			entry = entry.WithField("user_id", userID)
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Warn("リクエスト完了")
		default:
			entry.Info("リクエスト完了")
		}
	}
}

// AddLogField はリクエストログに項目を追加する。RequestLoggerが無い場合は何もしない。
func AddLogField(c *gin.Context, key string, value any) {
	v, ok := c.Get(contextKeyLogFields)
	if !ok {
		return
	}
	if fields, ok := v.(logrus.Fields); ok {
		fields[key] = value
	}
}
