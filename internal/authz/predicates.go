package authz

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/nao1215/gpsgateway/internal/identity"
)

// MutatingMethods は状態を変更するHTTPメソッド。
var MutatingMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// RoleMembership は指定ロールのいずれかを保持していれば許可する。
type RoleMembership struct {
	// Roles は許可するロール名。
	Roles []string
	// Message は拒否時のメッセージ。
	Message string
}

// HasAnyRole はRoleMembership述語を生成する。
func HasAnyRole(roles ...string) *RoleMembership {
	return &RoleMembership{Roles: roles}
}

// WithMessage は拒否時のメッセージを差し替える。
func (p *RoleMembership) WithMessage(msg string) *RoleMembership {
	p.Message = msg
	return p
}

// Name は述語名を返す。
func (p *RoleMembership) Name() string { return "role:" + strings.Join(p.Roles, "|") }

// Evaluate はロールの共通部分が空でなければ許可する。
func (p *RoleMembership) Evaluate(id *identity.Identity, _ *Request) (Decision, error) {
	if id == nil {
		return Unauthenticated(), nil
	}
	if id.HasAnyRole(p.Roles...) {
		return Allowed(), nil
	}
	return Forbidden(orDefault(p.Message, "Required role missing for this resource")), nil
}

// PermissionMembership は指定権限を全て保持していれば許可する。
type PermissionMembership struct {
	// Permissions は必要な権限名。
	Permissions []string
	// Message は拒否時のメッセージ。
	Message string
}

// HasPermissions はPermissionMembership述語を生成する。
func HasPermissions(permissions ...string) *PermissionMembership {
	return &PermissionMembership{Permissions: permissions}
}

// Name は述語名を返す。
func (p *PermissionMembership) Name() string { return "permission:" + strings.Join(p.Permissions, "&") }

// Evaluate は必要な権限が全ロールの権限の和集合に含まれていれば許可する。
func (p *PermissionMembership) Evaluate(id *identity.Identity, _ *Request) (Decision, error) {
	if id == nil {
		return Unauthenticated(), nil
	}
	for _, perm := range p.Permissions {
		if !id.HasPermission(perm) {
			return Forbidden(orDefault(p.Message, "Insufficient permissions for this resource")), nil
		}
	}
	return Allowed(), nil
}

// Ownership はリソース所有者IDのパラメータが呼び出し元自身である場合に許可する。
// OverrideRolesのいずれかを持つ場合は所有者でなくても許可する。
type Ownership struct {
	// Param は所有者IDを持つルートパラメータ名。
	Param string
	// OverrideRoles は所有者判定を免除するロール。
	OverrideRoles []string
	// Message は拒否時のメッセージ。
	Message string
}

// OwnerOf はOwnership述語を生成する。
func OwnerOf(param string, overrideRoles ...string) *Ownership {
	return &Ownership{Param: param, OverrideRoles: overrideRoles}
}

// Name は述語名を返す。
func (p *Ownership) Name() string { return "ownership:" + p.Param }

// Evaluate はパラメータが無いルートでは判定対象外として許可する。
func (p *Ownership) Evaluate(id *identity.Identity, req *Request) (Decision, error) {
	if id == nil {
		return Unauthenticated(), nil
	}
	owner := req.Param(p.Param)
	if owner == "" {
		return Allowed(), nil
	}
	if id.SubjectID() == owner || id.HasAnyRole(p.OverrideRoles...) {
		return Allowed(), nil
	}
	return Forbidden(orDefault(p.Message, "You can only access your own information")), nil
}

// SelfScoped は検索対象の識別子が呼び出し元自身の識別子と一致する場合に許可する。
// 識別子はIdentityからIdentifierで取り出す。
type SelfScoped struct {
	// Param は検索対象の識別子を持つルートパラメータ名。
	Param string
	// Identifier は呼び出し元自身の識別子を返す。
	Identifier func(identity.Identity) string
	// ElevatedRoles は全ての識別子を検索できるロール。
	ElevatedRoles []string
	// Message は拒否時のメッセージ。
	Message string
}

// SelfRUT はRUTで自身のデータのみ検索を許可するSelfScoped述語を生成する。
func SelfRUT(param string, elevatedRoles ...string) *SelfScoped {
	return &SelfScoped{
		Param:         param,
		Identifier:    identity.Identity.RUT,
		ElevatedRoles: elevatedRoles,
	}
}

// Name は述語名を返す。
func (p *SelfScoped) Name() string { return "self:" + p.Param }

// Evaluate は昇格ロールを持つか、識別子が一致すれば許可する。
// 呼び出し元の識別子が空の場合は一致とみなさない。
func (p *SelfScoped) Evaluate(id *identity.Identity, req *Request) (Decision, error) {
	if id == nil {
		return Unauthenticated(), nil
	}
	if p.Identifier == nil {
		return Decision{}, errors.New("SelfScoped述語に識別子の取得関数が設定されていません")
	}
	if id.HasAnyRole(p.ElevatedRoles...) {
		return Allowed(), nil
	}
	own := p.Identifier(*id)
	if own != "" && own == req.Param(p.Param) {
		return Allowed(), nil
	}
	return Forbidden(orDefault(p.Message, "You can only access your own records")), nil
}

// MethodConditional はメソッドに応じて内側の述語を適用する。
// Methodsが空でなければ列挙したメソッドにのみ適用し、Exceptを指定した場合は
// 列挙したメソッド以外の全てのメソッドに適用する。
type MethodConditional struct {
	// Methods は内側の述語を適用するメソッド。
	Methods []string
	// Except は判定を免除するメソッド。
	Except []string
	// Inner は適用する述語。
	Inner Predicate
}

// OnMethods はMethodConditional述語を生成する。
func OnMethods(methods []string, inner Predicate) *MethodConditional {
	return &MethodConditional{Methods: upperAll(methods), Inner: inner}
}

// OnMutations は変更系メソッドにのみ内側の述語を適用する。GETとHEADは常に免除される。
func OnMutations(inner Predicate) *MethodConditional {
	return OnMethods(MutatingMethods, inner)
}

// ExceptMethods は指定したメソッド以外の全てのメソッドに内側の述語を適用する。
// TRACEや拡張メソッドのような未知のメソッドにも適用される。
func ExceptMethods(inner Predicate, methods ...string) *MethodConditional {
	return &MethodConditional{Except: upperAll(methods), Inner: inner}
}

// Name は述語名を返す。
func (p *MethodConditional) Name() string {
	if len(p.Except) > 0 {
		return p.Inner.Name() + "@!" + strings.Join(p.Except, ",")
	}
	return p.Inner.Name() + "@" + strings.Join(p.Methods, ",")
}

// Evaluate は対象メソッドであれば内側の述語を評価する。
func (p *MethodConditional) Evaluate(id *identity.Identity, req *Request) (Decision, error) {
	if !p.applies(strings.ToUpper(req.Method)) {
		return Allowed(), nil
	}
	return p.Inner.Evaluate(id, req)
}

// applies はメソッドに内側の述語を適用するかを返す。
func (p *MethodConditional) applies(method string) bool {
	if len(p.Except) > 0 {
		return !slices.Contains(p.Except, method)
	}
	return slices.Contains(p.Methods, method)
}

// upperAll はメソッド名を大文字に揃えた新しいスライスを返す。
func upperAll(methods []string) []string {
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		out = append(out, strings.ToUpper(m))
	}
	return out
}

// dateLayouts は日付範囲のパラメータとして受け付ける形式。
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// DateRange はクエリの開始日が終了日より後であれば400で拒否する。
// Identityには依存しない。
type DateRange struct {
	// StartKey は開始日のクエリキー。
	StartKey string
	// EndKey は終了日のクエリキー。
	EndKey string
}

// ValidDateRange はDateRange述語を生成する。
func ValidDateRange(startKey, endKey string) *DateRange {
	return &DateRange{StartKey: startKey, EndKey: endKey}
}

// Name は述語名を返す。
func (p *DateRange) Name() string { return "date-range:" + p.StartKey + "," + p.EndKey }

// Evaluate は両方が指定されている場合のみ範囲を検査する。
func (p *DateRange) Evaluate(_ *identity.Identity, req *Request) (Decision, error) {
	rawStart, rawEnd := req.Query.Get(p.StartKey), req.Query.Get(p.EndKey)
	if rawStart == "" || rawEnd == "" {
		return Allowed(), nil
	}
	start, err := parseDate(rawStart)
	if err != nil {
		return BadRequest(fmt.Sprintf("Invalid %s date format", p.StartKey)), nil
	}
	end, err := parseDate(rawEnd)
	if err != nil {
		return BadRequest(fmt.Sprintf("Invalid %s date format", p.EndKey)), nil
	}
	if start.After(end) {
		return BadRequest("Start date must be before end date"), nil
	}
	return Allowed(), nil
}

// parseDate は受け付ける形式のいずれかで日付を解析する。
func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("日付の形式が不正: %q", s)
}

// RequiredFields はJSONボディに指定フィールドが揃っていなければ400で拒否する。
type RequiredFields struct {
	// Fields は必須フィールド名。
	Fields []string
	// Message は拒否時のメッセージ。
	Message string
}

// RequireFields はRequiredFields述語を生成する。
func RequireFields(fields ...string) *RequiredFields {
	return &RequiredFields{Fields: fields}
}

// WithMessage は拒否時のメッセージを差し替える。
func (p *RequiredFields) WithMessage(msg string) *RequiredFields {
	p.Message = msg
	return p
}

// Name は述語名を返す。
func (p *RequiredFields) Name() string { return "fields:" + strings.Join(p.Fields, ",") }

// Evaluate はnull、空文字列、0、falseを未指定として扱う。
func (p *RequiredFields) Evaluate(_ *identity.Identity, req *Request) (Decision, error) {
	for _, f := range p.Fields {
		if !present(req.Body[f]) {
			return BadRequest(orDefault(p.Message, strings.Join(p.Fields, " and ")+" are required")), nil
		}
	}
	return Allowed(), nil
}

// present はJSON値が指定済みとみなせるかを返す。
func present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case float64:
		return val != 0
	case bool:
		return val
	default:
		return true
	}
}

// orDefault はmsgが空ならdefを返す。
func orDefault(msg, def string) string {
	if msg == "" {
		return def
	}
	return msg
}
