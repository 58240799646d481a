package apierror

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind はゲートウェイが生成するエラーの分類。
type Kind string

const (
	// KindMissingCredential はBearerトークンが無い、または形式が不正な場合。
	KindMissingCredential Kind = "missing_credential"
	// KindInvalidOrExpired は署名不正、期限切れなどトークン検証に失敗した場合。
	KindInvalidOrExpired Kind = "invalid_or_expired"
	// KindRouteNotFound はルートテーブルに一致するエントリが無い場合。
	KindRouteNotFound Kind = "route_not_found"
	// KindPredicateDenied は認可述語が拒否した場合。
	KindPredicateDenied Kind = "predicate_denied"
	// KindBadParameters はリクエストパラメータの整合性が取れない場合。
	KindBadParameters Kind = "bad_parameters"
	// KindPayloadTooLarge は認可のために読み込むボディが上限を超えた場合。
	KindPayloadTooLarge Kind = "payload_too_large"
	// KindBackendUnavailable はバックエンドへ接続できない場合。
	KindBackendUnavailable Kind = "backend_unavailable"
	// KindBackendTimeout はバックエンドが制限時間内に応答しない場合。
	KindBackendTimeout Kind = "backend_timeout"
	// KindBadGateway はそれ以外の転送失敗。
	KindBadGateway Kind = "bad_gateway"
	// KindInternalFault は述語や検証器の内部で想定外の障害が起きた場合。
	KindInternalFault Kind = "internal_fault"
)

// Error はクライアントに返すゲートウェイエラー。
type Error struct {
	// Kind はエラーの分類。
	Kind Kind
	// Status はHTTPステータスコード。
	Status int
	// Message はレスポンスボディに載せる短いメッセージ。
	Message string
}

// Error はerrorインターフェースを満たす。
func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Body はエラーレスポンスのJSONボディ。
type Body struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// New は指定した分類・ステータス・メッセージのエラーを生成する。
func New(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

// MissingCredential はトークン未指定エラーを返す。
func MissingCredential() *Error {
	return New(KindMissingCredential, http.StatusUnauthorized, "Access token required")
}

// InvalidOrExpired はトークン不正エラーを返す。
func InvalidOrExpired() *Error {
	return New(KindInvalidOrExpired, http.StatusUnauthorized, "Invalid or expired token")
}

// RouteNotFound はルート未検出エラーを返す。
func RouteNotFound() *Error {
	return New(KindRouteNotFound, http.StatusNotFound, "Route not found")
}

// Denied は認可拒否エラーを返す。
func Denied(message string) *Error {
	return New(KindPredicateDenied, http.StatusForbidden, message)
}

// BadParameters はパラメータ不正エラーを返す。
func BadParameters(message string) *Error {
	return New(KindBadParameters, http.StatusBadRequest, message)
}

// PayloadTooLarge はボディサイズ超過エラーを返す。
func PayloadTooLarge() *Error {
	return New(KindPayloadTooLarge, http.StatusRequestEntityTooLarge, "Request body too large")
}

// BackendUnavailable はバックエンド接続不可エラーを返す。
func BackendUnavailable() *Error {
	return New(KindBackendUnavailable, http.StatusServiceUnavailable, "Service temporarily unavailable")
}

// BackendTimeout はバックエンドのタイムアウトエラーを返す。
func BackendTimeout() *Error {
	return New(KindBackendTimeout, http.StatusGatewayTimeout, "Service did not respond in time")
}

// BadGateway はバックエンドとの通信失敗エラーを返す。
func BadGateway() *Error {
	return New(KindBadGateway, http.StatusBadGateway, "Bad gateway")
}

// InternalFault は内部障害エラーを返す。diagnosticは短い固定文言に限る。
func InternalFault(diagnostic string) *Error {
	if diagnostic == "" {
		diagnostic = "Internal gateway error"
	}
	return New(KindInternalFault, http.StatusInternalServerError, diagnostic)
}

// Write はエラーレスポンスを書き込み、以降のハンドラチェーンを中断する。
// 既にレスポンスが書き込まれている場合はチェーンの中断のみ行う。
func Write(c *gin.Context, err *Error) {
	if c.Writer.Written() {
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(err.Status, Body{Status: "error", Message: err.Message})
}
