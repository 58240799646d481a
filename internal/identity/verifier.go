package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingCredential はAuthorizationヘッダーが無い、またはBearer形式でない場合のエラー。
	ErrMissingCredential = errors.New("bearer credential is missing")
	// ErrInvalidOrExpired は署名検証または有効期限の検証に失敗した場合のエラー。
	ErrInvalidOrExpired = errors.New("credential is invalid or expired")
)

// defaultIssuer は開発用トークンの発行者名。
const defaultIssuer = "gps-gateway"

// Verifier はHMAC署名されたBearerトークンを検証する。
// 秘密鍵は生成後に変更されないため、複数のゴルーチンから同時に使用できる。
type Verifier struct {
	// secret はHMAC署名の検証に使う共有秘密鍵。
	secret []byte
	// parser は許可するアルゴリズムと有効期限必須の設定を持つパーサー。
	parser *jwt.Parser
}

// NewVerifier は秘密鍵からVerifierを生成する。
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("署名用の秘密鍵が空です")
	}
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{
				jwt.SigningMethodHS256.Alg(),
				jwt.SigningMethodHS384.Alg(),
				jwt.SigningMethodHS512.Alg(),
			}),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// BearerToken はAuthorizationヘッダーの値からトークン文字列を取り出す。
func BearerToken(header string) (string, error) {
	token, found := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !found || token == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}

// VerifyHeader はAuthorizationヘッダーの値を検証してIdentityを返す。
func (v *Verifier) VerifyHeader(header string) (Identity, error) {
	token, err := BearerToken(header)
	if err != nil {
		return Identity{}, err
	}
	return v.Verify(token)
}

// Verify はトークン文字列の署名と有効期限を検証してIdentityを返す。
// 失敗時のエラーは常にErrInvalidOrExpiredを包む。
func (v *Verifier) Verify(raw string) (Identity, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidOrExpired, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidOrExpired
	}
	return claims.identity(), nil
}

// Sign はIdentityをトークンに署名する。開発用トークンとテストフィクスチャで使用する。
// ログインやユーザー登録によるトークン発行はユーザーサービスの責務である。
func Sign(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ClaimsFor(id)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    defaultIssuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}
