package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// Claims はゲートウェイが受け付けるトークンのペイロード。
// ユーザーサービスが発行するトークンの形式に合わせている。
type Claims struct {
	jwt.RegisteredClaims
	// UserID はユーザーの一意識別子。数値でも文字列でもよい。
	UserID SubjectID `json:"id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// RUT はユーザーの国民識別番号。
	RUT string `json:"rut,omitempty"`
	// Roles はロールとそれに紐づく権限。
	Roles []RoleClaim `json:"roles,omitempty"`
}

// RoleClaim はクレーム内のロール。
type RoleClaim struct {
	RoleName    string            `json:"roleName"`
	Permissions []PermissionClaim `json:"permissions,omitempty"`
}

// PermissionClaim はクレーム内の権限。
type PermissionClaim struct {
	PermissionName string `json:"permissionName"`
}

// SubjectID は数値・文字列のどちらで表現されたIDも文字列として保持する。
type SubjectID string

// UnmarshalJSON は数値または文字列のIDを受け付ける。
func (s *SubjectID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("idの解析に失敗: %w", err)
		}
		*s = SubjectID(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("idは数値または文字列である必要があります: %w", err)
	}
	*s = SubjectID(canonicalNumber(num.String()))
	return nil
}

// canonicalNumber は整数値を表す数値表記("2.0"や"2e0")を10進の整数表記に揃える。
// 整数でない値はそのまま返す。
func canonicalNumber(raw string) string {
	r, ok := new(big.Rat).SetString(raw)
	if !ok || !r.IsInt() {
		return raw
	}
	return r.Num().String()
}

// MarshalJSON は整数として解釈できるIDを数値として出力する。
func (s SubjectID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(s), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(s))
}

// identity はクレームからIdentityを組み立てる。idが無い場合はsubを使う。
func (c *Claims) identity() Identity {
	subject := string(c.UserID)
	if subject == "" {
		subject = c.Subject
	}
	roles := make([]Role, 0, len(c.Roles))
	for _, rc := range c.Roles {
		perms := make([]string, 0, len(rc.Permissions))
		for _, p := range rc.Permissions {
			perms = append(perms, p.PermissionName)
		}
		roles = append(roles, NewRole(rc.RoleName, perms...))
	}
	return New(subject, c.Email, c.RUT, roles...)
}

// ClaimsFor はIdentityからトークン用のクレームを組み立てる。
func ClaimsFor(id Identity) Claims {
	roles := make([]RoleClaim, 0, len(id.roles))
	for _, r := range id.roles {
		rc := RoleClaim{RoleName: r.name}
		for _, p := range r.permissions {
			rc.Permissions = append(rc.Permissions, PermissionClaim{PermissionName: p})
		}
		roles = append(roles, rc)
	}
	return Claims{
		UserID: SubjectID(id.subjectID),
		Email:  id.email,
		RUT:    id.rut,
		Roles:  roles,
	}
}
