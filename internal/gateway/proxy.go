package gateway

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/gpsgateway/internal/identity"
	"github.com/nao1215/gpsgateway/internal/route"
	"github.com/nao1215/gpsgateway/pkg/apierror"
	"github.com/nao1215/gpsgateway/pkg/httpclient"
	"github.com/nao1215/gpsgateway/pkg/middleware"
)

// 転送時にゲートウェイが付与するヘッダー。
const (
	HeaderUserID           = "X-User-Id"
	HeaderUserEmail        = "X-User-Email"
	HeaderUserRole         = "X-User-Role"
	HeaderUserPermissions  = "X-User-Permissions"
	HeaderGatewaySource    = "X-Gateway-Source"
	HeaderRequestTimestamp = "X-Request-Timestamp"
)

// hopHeaders は接続ごとのヘッダーで、転送してはならない。
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// forward はリクエストをバックエンドへ転送し、応答をそのままクライアントへ流す。
// バックエンドの非2xx応答はゲートウェイのエラーに変換しない。
func (s *Server) forward(c *gin.Context, m route.Match, body forwardBody, caller *identity.Identity) {
	base := s.backends[m.Entry.Backend]
	target := *base
	target.Path = joinPath(base.Path, m.ForwardPath())
	target.RawPath = ""
	target.RawQuery = c.Request.URL.RawQuery

	ctx, cancel := s.client.WithTimeout(c.Request.Context())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, c.Request.Method, target.String(), body.reader)
	if err != nil {
		s.logger.WithError(err).WithField("request_id", middleware.GetRequestID(c)).
			Error("転送リクエストの作成に失敗")
		apierror.Write(c, apierror.InternalFault(""))
		return
	}
	if body.reader != nil {
		req.ContentLength = body.length
	}

	copyHeader(req.Header, c.Request.Header)
	removeHopHeaders(req.Header)
	scrubIdentityHeaders(req.Header)
	setForwardedHeaders(req.Header, c.Request)
	req.Header.Set(middleware.HeaderRequestID, middleware.GetRequestID(c))
	if caller != nil {
		s.injectIdentity(req.Header, *caller)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.backendFailure(c, m, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	removeHopHeaders(resp.Header)
	// バックエンドの値をゲートウェイが設定した値(CORSなど)より優先する
	for k, vv := range resp.Header {
		c.Writer.Header()[k] = vv
	}
	c.Writer.WriteHeader(resp.StatusCode)
	c.Writer.WriteHeaderNow()

	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		// ヘッダー送信後のため応答は差し替えられない
		s.logger.WithError(err).WithFields(logrus.Fields{
			"request_id": middleware.GetRequestID(c),
			"route":      m.Entry.Name,
			"backend":    m.Entry.Backend,
		}).Warn("バックエンド応答の転送が途中で失敗")
	}
}

// backendFailure は転送失敗を分類してクライアントへ返す。
func (s *Server) backendFailure(c *gin.Context, m route.Match, err error) {
	failure := httpclient.Classify(err)
	s.metrics.backendFailed(m.Entry.Backend, failure.String())
	s.logger.WithError(err).WithFields(logrus.Fields{
		"request_id": middleware.GetRequestID(c),
		"route":      m.Entry.Name,
		"backend":    m.Entry.Backend,
		"failure":    failure.String(),
	}).Warn("バックエンドへの転送に失敗")

	switch failure {
	case httpclient.FailureTimeout:
		apierror.Write(c, apierror.BackendTimeout())
	case httpclient.FailureUnavailable:
		apierror.Write(c, apierror.BackendUnavailable())
	default:
		apierror.Write(c, apierror.BadGateway())
	}
}

// injectIdentity は検証済みIdentityをバックエンド向けヘッダーに設定する。
func (s *Server) injectIdentity(h http.Header, id identity.Identity) {
	h.Set(HeaderUserID, id.SubjectID())
	h.Set(HeaderUserEmail, id.Email())
	h.Set(HeaderUserRole, jsonList(id.RoleNames()))
	h.Set(HeaderUserPermissions, jsonList(id.Permissions()))
	h.Set(HeaderGatewaySource, s.gatewaySource)
	h.Set(HeaderRequestTimestamp, isoTimestamp(time.Now()))
}

// jsonList は文字列の一覧をJSON配列にする。nilは空配列になる。
func jsonList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// copyHeader はsrcのヘッダーをdstへ追加する。
func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// removeHopHeaders は接続ごとのヘッダーと、Connectionヘッダーで列挙されたヘッダーを取り除く。
func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// scrubIdentityHeaders はクライアントが送ってきたゲートウェイ付与ヘッダーを取り除く。
// 認証不要ルートでも偽装されたIdentityがバックエンドに届かないようにする。
func scrubIdentityHeaders(h http.Header) {
	for name := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(name), "X-User-") {
			delete(h, name)
		}
	}
	h.Del(HeaderGatewaySource)
	h.Del(HeaderRequestTimestamp)
}

// setForwardedHeaders はX-Forwarded-*ヘッダーを設定する。
func setForwardedHeaders(h http.Header, in *http.Request) {
	if host, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			host = prior + ", " + host
		}
		h.Set("X-Forwarded-For", host)
	}
	h.Set("X-Forwarded-Host", in.Host)
	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	h.Set("X-Forwarded-Proto", proto)
}

// joinPath はバックエンドのベースパスと転送先パスを連結する。
func joinPath(basePath, p string) string {
	if basePath == "" || basePath == "/" {
		return p
	}
	joined, err := url.JoinPath(basePath, p)
	if err != nil {
		return strings.TrimSuffix(basePath, "/") + p
	}
	if strings.HasSuffix(p, "/") && !strings.HasSuffix(joined, "/") {
		joined += "/"
	}
	return joined
}
