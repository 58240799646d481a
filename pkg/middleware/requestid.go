package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID はリクエストIDを伝播するHTTPヘッダー。
const HeaderRequestID = "X-Request-ID"

// contextKeyRequestID はGinコンテキストにリクエストIDを格納するキー。
const contextKeyRequestID = "request_id"

// RequestID はリクエストごとに一意なIDを割り当てるGinミドルウェアを返す。
// クライアントがX-Request-IDを送ってきた場合はそれを引き継ぐ。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		c.Set(contextKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// GetRequestID はGinコンテキストからリクエストIDを取得する。
func GetRequestID(c *gin.Context) string {
	return c.GetString(contextKeyRequestID)
}
