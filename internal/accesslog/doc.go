// Package accesslog はゲートウェイが処理したリクエストをSQLiteに記録する。
//
// Recorderはディスパッチを待たせないよう非同期に書き込み、
// バッファが満杯の場合はエントリを破棄する。
package accesslog
