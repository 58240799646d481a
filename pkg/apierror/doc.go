// Package apierror はゲートウェイ自身が生成するエラーレスポンスを扱う。
//
// 認証失敗、ルート未検出、認可拒否、バックエンド障害などの分類と、
// クライアントへ返す {"status":"error","message":...} 形式のボディを定義する。
package apierror
