package accesslog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/nao1215/gpsgateway/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Entry はアクセスログ1件。
type Entry struct {
	// Time はリクエストの受信日時。
	Time time.Time
	// RequestID はX-Request-IDの値。
	RequestID string
	// Method はHTTPメソッド。
	Method string
	// Path はクライアントが要求したパス。
	Path string
	// Route は一致したルート名。
	Route string
	// Backend は転送先のバックエンドID。
	Backend string
	// Status はクライアントへ返したステータスコード。
	Status int
	// Subject は認証済みユーザーID。
	Subject string
	// Latency は処理時間。
	Latency time.Duration
}

// Store はアクセスログのSQLiteストア。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// Open はpathのSQLiteデータベースを開き、マイグレーションを適用する。
func Open(ctx context.Context, path string, logger *logrus.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// 書き込みはRecorderの単一ゴルーチンから行う
	db.SetMaxOpenConns(1)

	if _, err := migration.Run(ctx, db, migrations, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert はエントリを1件書き込む。
func (s *Store) Insert(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_log
			(received_at, request_id, method, path, route, backend, status, subject, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC().Format(time.RFC3339Nano), e.RequestID, e.Method, e.Path,
		e.Route, e.Backend, e.Status, e.Subject, e.Latency.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("アクセスログの書き込みに失敗: %w", err)
	}
	return nil
}

// Recent は新しい順に最大limit件のエントリを返す。
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT received_at, request_id, method, path, route, backend, status, subject, latency_ms
		FROM access_log
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("アクセスログの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			received  string
			latencyMS int64
		)
		if err := rows.Scan(&received, &e.RequestID, &e.Method, &e.Path,
			&e.Route, &e.Backend, &e.Status, &e.Subject, &latencyMS); err != nil {
			return nil, fmt.Errorf("アクセスログの読み取りに失敗: %w", err)
		}
		if e.Time, err = time.Parse(time.RFC3339Nano, received); err != nil {
			return nil, fmt.Errorf("受信日時の解析に失敗: %w", err)
		}
		e.Latency = time.Duration(latencyMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}
