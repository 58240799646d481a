// Package middleware はゲートウェイのGinベースのHTTP処理で使用する共通ミドルウェアを提供する。
//
// Bearerトークンの検証と認証不要パスの判定、リクエストID、構造化リクエストログ、
// パニックリカバリ、CORS設定を含む。エラー応答は全てapierrorの形式で返す。
package middleware
