// Package gateway はゲートウェイのHTTPサーバーとディスパッチャーを提供する。
//
// 全てのリクエストは認証、ルート照合、認可述語の評価、バックエンドへの転送の順に
// 処理される。ゲートウェイ自身のエンドポイントは /health と /metrics のみで、
// それ以外のパスはルートテーブルに従って内部サービスへ転送する。
// 1リクエストにつき応答は必ず1回だけ書き込まれる。
package gateway
