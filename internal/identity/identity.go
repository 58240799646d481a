// Package identity は検証済みトークンから得られる呼び出し元の表現と、
// Bearerトークンの検証器を提供する。
//
// Identityはリクエストごとに検証時に一度だけ生成される不変の値であり、
// 永続化もキャッシュもされない。ロールと権限はトークンのクレームを
// そのまま信頼し、バックエンドへ再問い合わせすることはない。
package identity

import "slices"

// Role はロール名とそのロールに付与された権限の集合。
type Role struct {
	name        string
	permissions []string
}

// NewRole はロールを生成する。権限は重複を除いて保持する。
func NewRole(name string, permissions ...string) Role {
	perms := make([]string, 0, len(permissions))
	for _, p := range permissions {
		if p == "" || slices.Contains(perms, p) {
			continue
		}
		perms = append(perms, p)
	}
	return Role{name: name, permissions: perms}
}

// Name はロール名を返す。
func (r Role) Name() string { return r.name }

// Permissions はロールの権限名のコピーを返す。
func (r Role) Permissions() []string { return slices.Clone(r.permissions) }

// Identity は検証済みの呼び出し元。
type Identity struct {
	subjectID string
	email     string
	rut       string
	roles     []Role
}

// New はIdentityを生成する。rolesは呼び出し側と共有しない。
func New(subjectID, email, rut string, roles ...Role) Identity {
	return Identity{
		subjectID: subjectID,
		email:     email,
		rut:       rut,
		roles:     slices.Clone(roles),
	}
}

// SubjectID はユーザーの一意識別子を返す。
func (i Identity) SubjectID() string { return i.subjectID }

// Email はユーザーの連絡先メールアドレスを返す。
func (i Identity) Email() string { return i.email }

// RUT はユーザーの国民識別番号を返す。トークンに含まれない場合は空文字列。
func (i Identity) RUT() string { return i.rut }

// Roles は保持しているロールのコピーを返す。
func (i Identity) Roles() []Role { return slices.Clone(i.roles) }

// RoleNames はロール名の一覧を返す。
func (i Identity) RoleNames() []string {
	names := make([]string, 0, len(i.roles))
	for _, r := range i.roles {
		names = append(names, r.name)
	}
	return names
}

// Permissions は全ロールの権限の和集合を、最初に現れた順で返す。
func (i Identity) Permissions() []string {
	perms := []string{}
	for _, r := range i.roles {
		for _, p := range r.permissions {
			if !slices.Contains(perms, p) {
				perms = append(perms, p)
			}
		}
	}
	return perms
}

// HasAnyRole は指定したロールのいずれかを保持しているかを返す。
func (i Identity) HasAnyRole(names ...string) bool {
	for _, r := range i.roles {
		if slices.Contains(names, r.name) {
			return true
		}
	}
	return false
}

// HasPermission は全ロールの権限のいずれかに指定した権限が含まれるかを返す。
func (i Identity) HasPermission(name string) bool {
	for _, r := range i.roles {
		if slices.Contains(r.permissions, name) {
			return true
		}
	}
	return false
}
