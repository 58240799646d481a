package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/gpsgateway/internal/identity"
	"github.com/nao1215/gpsgateway/pkg/apierror"
)

// contextKeyIdentity はGinコンテキストに検証済みIdentityを格納するキー。
const contextKeyIdentity = "identity"

// PublicRoutes は認証不要のパスの集合。起動時に一度だけ構築し、以降は読み取り専用。
type PublicRoutes struct {
	paths map[string]struct{}
}

// NewPublicRoutes はパスの一覧から認証不要パスの集合を生成する。
func NewPublicRoutes(paths []string) PublicRoutes {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return PublicRoutes{paths: set}
}

// Contains はパスが完全一致で認証不要パスに含まれるかを返す。
func (p PublicRoutes) Contains(path string) bool {
	_, ok := p.paths[path]
	return ok
}

// PathNormalizer はリクエストパスを照合用に正規化する関数。
type PathNormalizer func(string) string

// Authenticate はBearerトークンを検証するGinミドルウェアを返す。
// 認証不要パスへのリクエストでは検証器を呼び出さない。
// 検証に成功した場合、コンテキストにIdentityを設定する。
func Authenticate(verifier *identity.Verifier, public PublicRoutes, normalize PathNormalizer, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if normalize != nil {
			path = normalize(path)
		}
		if public.Contains(path) {
			c.Next()
			return
		}

		id, err := verifier.VerifyHeader(c.GetHeader("Authorization"))
		if err != nil {
			if errors.Is(err, identity.ErrMissingCredential) {
				apierror.Write(c, apierror.MissingCredential())
				return
			}
			logger.WithFields(logrus.Fields{
				"request_id": GetRequestID(c),
				"path":       path,
				"error":      err.Error(),
			}).Info("トークンの検証に失敗")
			apierror.Write(c, apierror.InvalidOrExpired())
			return
		}

		c.Set(contextKeyIdentity, id)
		c.Next()
	}
}

// GetIdentity はGinコンテキストから検証済みIdentityを取得する。
// Authenticateミドルウェアが検証を行っていない場合はfalseを返す。
func GetIdentity(c *gin.Context) (identity.Identity, bool) {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return identity.Identity{}, false
	}
	id, ok := v.(identity.Identity)
	return id, ok
}

// GetUserID はGinコンテキストからユーザーIDを取得する。未認証の場合は空文字列。
func GetUserID(c *gin.Context) string {
	id, ok := GetIdentity(c)
	if !ok {
		return ""
	}
	return id.SubjectID()
}
