// API Gatewayサービスのエントリポイント。
// Bearerトークンの検証、ルートごとの認可、バックエンド(usuarios/inventario/transacciones)への転送を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/gpsgateway/internal/accesslog"
	"github.com/nao1215/gpsgateway/internal/config"
	"github.com/nao1215/gpsgateway/internal/gateway"
	"github.com/nao1215/gpsgateway/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("設定の読み込みに失敗")
	}
	logger := cfg.NewLogger()
	if cfg.UsingDevSecret {
		logger.Warn("JWT_SECRETが未設定のため開発用シークレットを使用します。本番環境では必ず設定してください")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Gatewayサービスが異常終了しました")
	}
	logger.Info("Gatewayサービスを停止しました")
}

// run は依存関係を組み立ててサーバーを起動し、ctxが終了するまでブロックする。
func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("gps-gateway", os.Stdout, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("トレーサーの停止に失敗")
			}
		}()
	}

	opts := gateway.Options{Config: cfg, Logger: logger}
	if cfg.AccessLogPath != "" {
		store, err := accesslog.Open(ctx, cfg.AccessLogPath, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("アクセスログDBのクローズに失敗")
			}
		}()

		recorder := accesslog.NewRecorder(store, accesslog.DefaultBuffer, logger)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := recorder.Close(closeCtx); err != nil {
				logger.WithError(err).Warn("アクセスログの書き込み待ちが完了しませんでした")
			}
			if dropped := recorder.Dropped(); dropped > 0 {
				logger.WithField("dropped", dropped).Warn("アクセスログの一部を破棄しました")
			}
		}()
		opts.AccessLog = recorder
	}

	server, err := gateway.NewServer(opts)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
