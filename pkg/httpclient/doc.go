// Package httpclient はゲートウェイからバックエンドサービスへの転送に使うクライアントを提供する。
//
// 接続プールを共有するトランスポート、転送ごとのタイムアウト、
// OpenTelemetryによる送信リクエストのトレース、転送失敗の分類を扱う。
package httpclient
