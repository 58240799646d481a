package apierror

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// TestConstructors は各エラー生成関数の分類とステータスを検証する。
func TestConstructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    *Error
		kind   Kind
		status int
	}{
		{"トークン未指定", MissingCredential(), KindMissingCredential, http.StatusUnauthorized},
		{"トークン不正", InvalidOrExpired(), KindInvalidOrExpired, http.StatusUnauthorized},
		{"ルート未検出", RouteNotFound(), KindRouteNotFound, http.StatusNotFound},
		{"認可拒否", Denied("nope"), KindPredicateDenied, http.StatusForbidden},
		{"パラメータ不正", BadParameters("bad"), KindBadParameters, http.StatusBadRequest},
		{"ボディサイズ超過", PayloadTooLarge(), KindPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{"接続不可", BackendUnavailable(), KindBackendUnavailable, http.StatusServiceUnavailable},
		{"タイムアウト", BackendTimeout(), KindBackendTimeout, http.StatusGatewayTimeout},
		{"通信失敗", BadGateway(), KindBadGateway, http.StatusBadGateway},
		{"内部障害", InternalFault(""), KindInternalFault, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", tt.err.Kind, tt.kind)
			}
			if tt.err.Status != tt.status {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.status)
			}
			if tt.err.Message == "" {
				t.Error("Messageが空であってはならない")
			}
		})
	}

	t.Run("InternalFaultは指定した診断メッセージを使うこと", func(t *testing.T) {
		t.Parallel()

		if got := InternalFault("Authorization check failed").Message; got != "Authorization check failed" {
			t.Errorf("Message = %q, want %q", got, "Authorization check failed")
		}
	})
}

// TestWrite はWrite関数を検証する。
func TestWrite(t *testing.T) {
	t.Parallel()

	t.Run("統一形式のJSONボディを書き込むこと", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

		Write(c, Denied("Insufficient permissions"))

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
		var body Body
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスボディのパースに失敗: %v", err)
		}
		if body.Status != "error" {
			t.Errorf("status = %q, want %q", body.Status, "error")
		}
		if body.Message != "Insufficient permissions" {
			t.Errorf("message = %q, want %q", body.Message, "Insufficient permissions")
		}
		if !c.IsAborted() {
			t.Error("ハンドラチェーンが中断されていない")
		}
	})

	t.Run("書き込み済みの応答は上書きしないこと", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.String(http.StatusAccepted, "partial")

		Write(c, BadGateway())

		if w.Code != http.StatusAccepted {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusAccepted)
		}
		if w.Body.String() != "partial" {
			t.Errorf("ボディ = %q, want %q", w.Body.String(), "partial")
		}
	})
}
