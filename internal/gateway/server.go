package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nao1215/gpsgateway/internal/accesslog"
	"github.com/nao1215/gpsgateway/internal/config"
	"github.com/nao1215/gpsgateway/internal/identity"
	"github.com/nao1215/gpsgateway/internal/route"
	"github.com/nao1215/gpsgateway/pkg/httpclient"
	"github.com/nao1215/gpsgateway/pkg/middleware"
)

// serviceName はトレースとログに使うサービス名。
const serviceName = "gps-gateway"

// コンテキストキー。ディスパッチの結果をobserveミドルウェアへ渡す。
const (
	contextKeyRoute   = "gateway_route"
	contextKeyBackend = "gateway_backend"
)

// AccessRecorder はアクセスログの記録先。
type AccessRecorder interface {
	Record(e accesslog.Entry) bool
}

// Options はServerの依存関係。
type Options struct {
	// Config はゲートウェイの設定。必須。
	Config *config.Config
	// Logger はログ出力先。nilの場合はlogrusの標準ロガーを使う。
	Logger *logrus.Logger
	// Routes はルートテーブルのエントリ。nilの場合はDefaultRoutesを使う。
	Routes []route.Entry
	// AccessLog はアクセスログの記録先。nilの場合は記録しない。
	AccessLog AccessRecorder
}

// Server はゲートウェイのHTTPサーバー。
// 構築後のフィールドは読み取り専用で、リクエスト間で共有しても安全。
type Server struct {
	// engine はGinのHTTPルーター。
	engine *gin.Engine
	// port はサーバーのリッスンポート。
	port int
	// table はルートテーブル。
	table *route.Table
	// verifier はBearerトークンの検証器。
	verifier *identity.Verifier
	// public は認証不要パスの集合。
	public middleware.PublicRoutes
	// backends はバックエンドIDからベースURLへの対応。
	backends map[string]*url.URL
	// client はバックエンドへの転送に使うHTTPクライアント。
	client *httpclient.Client
	// gatewaySource はX-Gateway-Sourceヘッダーの値。
	gatewaySource string
	// maxBodyBytes は認可のために読み込むボディの上限。
	maxBodyBytes int64
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout time.Duration
	// tracing はOpenTelemetryの計装を有効にするかどうか。
	tracing bool
	// metrics はPrometheusコレクター。
	metrics *metrics
	// accessLog はアクセスログの記録先。
	accessLog AccessRecorder
	// logger はログ出力先。
	logger *logrus.Logger
}

// NewServer は新しいゲートウェイサーバーを生成する。
// ルートテーブルとバックエンドURLはここで一度だけ検証される。
func NewServer(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("設定が指定されていません")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	verifier, err := identity.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("トークン検証器の生成に失敗: %w", err)
	}

	backends := make(map[string]*url.URL, 3)
	ids := make([]string, 0, 3)
	for id, raw := range cfg.BackendURLs() {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("バックエンド %s のURLが不正: %w", id, err)
		}
		backends[id] = u
		ids = append(ids, id)
	}

	entries := opts.Routes
	if entries == nil {
		entries = DefaultRoutes()
	}
	table, err := route.NewTable(entries, ids...)
	if err != nil {
		return nil, fmt.Errorf("ルートテーブルの構築に失敗: %w", err)
	}

	s := &Server{
		port:     cfg.Port,
		table:    table,
		verifier: verifier,
		public:   middleware.NewPublicRoutes(cfg.PublicRoutes),
		backends: backends,
		client: httpclient.New(httpclient.Options{
			Timeout: cfg.RequestTimeout,
			Tracing: cfg.TracingEnabled,
		}),
		gatewaySource:   cfg.GatewaySource,
		maxBodyBytes:    cfg.MaxBodyBytes,
		shutdownTimeout: cfg.ShutdownTimeout,
		tracing:         cfg.TracingEnabled,
		metrics:         newMetrics(),
		accessLog:       opts.AccessLog,
		logger:          logger,
	}
	s.engine = s.newEngine(cfg.CORSOrigins)
	return s, nil
}

// newEngine はミドルウェアとルーティングを設定したGinエンジンを生成する。
func (s *Server) newEngine(corsOrigins []string) *gin.Engine {
	engine := gin.New()
	// 末尾スラッシュの補正はせず、全てのパスをディスパッチャーに渡す
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	engine.Use(middleware.Recovery(s.logger))
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogger(s.logger))
	engine.Use(s.observe())
	engine.Use(middleware.CORS(corsOrigins))

	// ヘルスチェック
	engine.GET("/health", s.handleHealth)
	// Prometheusメトリクス
	engine.GET("/metrics", gin.WrapH(s.metrics.handler()))

	// それ以外は全てルートテーブルに従って転送する
	engine.NoRoute(
		middleware.Authenticate(s.verifier, s.public, route.Normalize, s.logger),
		s.dispatch,
	)
	return engine
}

// Handler はサーバーのHTTPハンドラを返す。トレースが有効な場合は計装済みのハンドラを返す。
func (s *Server) Handler() http.Handler {
	if s.tracing {
		return otelhttp.NewHandler(s.engine, serviceName)
	}
	return s.engine
}

// Run はHTTPサーバーを起動し、ctxが終了するとグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("port", s.port).Info("ゲートウェイを起動しました")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("シャットダウンを開始します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("グレースフルシャットダウンに失敗: %w", err)
	}
	return nil
}

// handleHealth はゲートウェイ自身の稼働状態を返す。
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "Gateway is running",
		"timestamp": isoTimestamp(time.Now()),
	})
}

// observe はリクエスト完了後にメトリクスとアクセスログを記録するミドルウェアを返す。
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		s.metrics.inFlight.Inc()
		defer s.metrics.inFlight.Dec()

		c.Next()

		elapsed := time.Since(start)
		routeName := c.GetString(contextKeyRoute)
		status := c.Writer.Status()
		s.metrics.observe(routeName, c.Request.Method, status, elapsed)

		if s.accessLog != nil {
			s.accessLog.Record(accesslog.Entry{
				Time:      start,
				RequestID: middleware.GetRequestID(c),
				Method:    c.Request.Method,
				Path:      c.Request.URL.Path,
				Route:     routeName,
				Backend:   c.GetString(contextKeyBackend),
				Status:    status,
				Subject:   middleware.GetUserID(c),
				Latency:   elapsed,
			})
		}
	}
}

// isoTimestamp はミリ秒精度のISO-8601形式(UTC)で時刻を整形する。
func isoTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
