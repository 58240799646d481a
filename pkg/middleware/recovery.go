package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/gpsgateway/pkg/apierror"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時にログを出力し、まだ応答していなければ500エラーを返す。
func Recovery(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{
					"request_id": GetRequestID(c),
					"method":     c.Request.Method,
					"path":       c.Request.URL.Path,
					"panic":      r,
				}).Error("パニックから回復しました")
				apierror.Write(c, apierror.InternalFault(""))
			}
		}()
		c.Next()
	}
}
