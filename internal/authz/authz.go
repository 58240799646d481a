// Package authz はルートに紐づく認可述語を提供する。
//
// 各述語は呼び出し元のIdentityと現在のリクエストの内容だけを読み、
// 許可または拒否の判定を返す。外部状態には一切アクセスしない。
// ルートに宣言された述語は宣言順に評価され、最初の拒否で評価を打ち切る。
package authz

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/nao1215/gpsgateway/internal/identity"
)

// Request は述語が参照するリクエストの内容。
type Request struct {
	// Method はHTTPメソッド。
	Method string
	// Params はルートパターンの名前付きパラメータ。
	Params map[string]string
	// Query はクエリパラメータ。
	Query url.Values
	// Body はJSONボディのトップレベルのオブジェクト。JSONでない場合はnil。
	Body map[string]any
}

// Param は名前付きパラメータを返す。
func (r *Request) Param(name string) string {
	if r == nil || r.Params == nil {
		return ""
	}
	return r.Params[name]
}

// Decision は述語の評価結果。
type Decision struct {
	// Allow は許可された場合にtrue。
	Allow bool
	// Status は拒否時に返すHTTPステータスコード。
	Status int
	// Reason は拒否理由。クライアントへのメッセージとしてそのまま使う。
	Reason string
}

// Allowed は許可の判定を返す。
func Allowed() Decision {
	return Decision{Allow: true, Status: http.StatusOK}
}

// Forbidden は403の拒否判定を返す。
func Forbidden(reason string) Decision {
	return Decision{Status: http.StatusForbidden, Reason: reason}
}

// BadRequest は400の拒否判定を返す。
func BadRequest(reason string) Decision {
	return Decision{Status: http.StatusBadRequest, Reason: reason}
}

// Unauthenticated は401の拒否判定を返す。
func Unauthenticated() Decision {
	return Decision{Status: http.StatusUnauthorized, Reason: "User not authenticated"}
}

// Predicate は認可述語。
type Predicate interface {
	// Name はログとメトリクスに使う述語名。
	Name() string
	// Evaluate は判定を返す。拒否はDecisionで表し、errorは想定外の障害に限る。
	Evaluate(id *identity.Identity, req *Request) (Decision, error)
}

// Result はチェーン評価の結果。
type Result struct {
	Decision
	// Predicate は拒否または障害を起こした述語名。全許可の場合は空文字列。
	Predicate string
	// Err は述語内部で発生した想定外の障害。
	Err error
}

// Evaluate は述語を宣言順に評価し、最初の拒否で打ち切る。
// 述語がerrorを返すかパニックした場合は500の判定とErrを返す。
func Evaluate(predicates []Predicate, id *identity.Identity, req *Request) Result {
	for _, p := range predicates {
		d, err := safeEvaluate(p, id, req)
		if err != nil {
			return Result{
				Decision:  Decision{Status: http.StatusInternalServerError, Reason: "Authorization check failed"},
				Predicate: p.Name(),
				Err:       err,
			}
		}
		if !d.Allow {
			return Result{Decision: d, Predicate: p.Name()}
		}
	}
	return Result{Decision: Allowed()}
}

// safeEvaluate は述語のパニックをerrorに変換する。
func safeEvaluate(p Predicate, id *identity.Identity, req *Request) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("述語 %s でパニックが発生: %v", p.Name(), r)
		}
	}()
	return p.Evaluate(id, req)
}
