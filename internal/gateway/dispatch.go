package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/gpsgateway/internal/authz"
	"github.com/nao1215/gpsgateway/internal/identity"
	"github.com/nao1215/gpsgateway/internal/route"
	"github.com/nao1215/gpsgateway/pkg/apierror"
	"github.com/nao1215/gpsgateway/pkg/middleware"
)

// dispatch は認証済みのリクエストをルート照合、認可、転送の順に処理する。
// Authenticateミドルウェアの後に呼ばれる。
func (s *Server) dispatch(c *gin.Context) {
	m, err := s.table.Match(c.Request.Method, c.Request.URL.Path)
	if errors.Is(err, route.ErrNoMatch) {
		apierror.Write(c, apierror.RouteNotFound())
		return
	}
	c.Set(contextKeyRoute, m.Entry.Name)
	c.Set(contextKeyBackend, m.Entry.Backend)
	middleware.AddLogField(c, "route", m.Entry.Name)

	body, parsed, apiErr := s.readBody(c.Request)
	if apiErr != nil {
		apierror.Write(c, apiErr)
		return
	}

	var caller *identity.Identity
	if id, ok := middleware.GetIdentity(c); ok {
		caller = &id
	}

	// 認証不要パスには呼び出し元が存在しないため述語を評価しない
	if !s.public.Contains(m.Path) {
		res := authz.Evaluate(m.Entry.Predicates, caller, &authz.Request{
			Method: c.Request.Method,
			Params: m.Params,
			Query:  c.Request.URL.Query(),
			Body:   parsed,
		})
		if !res.Allow {
			s.reject(c, m, res)
			return
		}
	}

	s.forward(c, m, body, caller)
}

// reject は認可の拒否結果をクライアントへ返す。
func (s *Server) reject(c *gin.Context, m route.Match, res authz.Result) {
	s.metrics.denied(m.Entry.Name, res.Predicate, res.Status)
	entry := s.logger.WithFields(logrus.Fields{
		"request_id": middleware.GetRequestID(c),
		"route":      m.Entry.Name,
		"predicate":  res.Predicate,
		"status":     res.Status,
		"user_id":    middleware.GetUserID(c),
	})

	if res.Err != nil {
		entry.WithError(res.Err).Error("認可述語の評価中に障害が発生")
		apierror.Write(c, apierror.InternalFault(res.Reason))
		return
	}
	entry.Info("認可述語により拒否")
	apierror.Write(c, deniedError(res.Decision))
}

// deniedError は拒否判定をゲートウェイエラーに変換する。
func deniedError(d authz.Decision) *apierror.Error {
	switch d.Status {
	case http.StatusBadRequest:
		return apierror.BadParameters(d.Reason)
	case http.StatusUnauthorized:
		return apierror.New(apierror.KindMissingCredential, http.StatusUnauthorized, d.Reason)
	case http.StatusForbidden:
		return apierror.Denied(d.Reason)
	}
	// エラーを表さないステータスの拒否は述語の不備として扱う
	if d.Status < http.StatusBadRequest || d.Status > 599 {
		return apierror.InternalFault("")
	}
	return apierror.New(apierror.KindPredicateDenied, d.Status, d.Reason)
}

// forwardBody はバックエンドへ転送するボディ。
type forwardBody struct {
	// reader はボディの内容。ボディが無い場合はnil。
	reader io.Reader
	// length はボディの長さ。不明な場合は-1。
	length int64
}

// readBody はJSONボディを読み込み、転送用のボディと述語用のオブジェクトを返す。
// JSON以外のボディは読み込まずにそのまま転送する。
func (s *Server) readBody(r *http.Request) (forwardBody, map[string]any, *apierror.Error) {
	if r.Body == nil || r.Body == http.NoBody {
		return forwardBody{}, nil, nil
	}
	if !isJSON(r.Header.Get("Content-Type")) {
		return forwardBody{reader: r.Body, length: r.ContentLength}, nil, nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodyBytes+1))
	if err != nil {
		return forwardBody{}, nil, apierror.BadParameters("Failed to read request body")
	}
	if int64(len(raw)) > s.maxBodyBytes {
		return forwardBody{}, nil, apierror.PayloadTooLarge()
	}
	buffered := forwardBody{reader: bytes.NewReader(raw), length: int64(len(raw))}
	if len(bytes.TrimSpace(raw)) == 0 {
		return buffered, nil, nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return forwardBody{}, nil, apierror.BadParameters("Invalid JSON body")
	}
	// トップレベルがオブジェクトでない場合、述語はボディを参照しない
	obj, _ := decoded.(map[string]any)
	return buffered, obj, nil
}

// isJSON はContent-TypeがJSONかどうかを返す。
func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
