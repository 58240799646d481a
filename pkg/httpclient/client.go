package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client はバックエンドへの転送に使うHTTPクライアント。
// リダイレクトは追跡せず、バックエンドの応答をそのまま呼び出し元へ返す。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// timeout は1回の転送に許す最大時間。
	timeout time.Duration
}

// Options はクライアントの設定。
type Options struct {
	// Timeout は1回の転送に許す最大時間。0の場合は30秒。
	Timeout time.Duration
	// MaxIdleConnsPerHost はバックエンドごとに保持するアイドル接続数。0の場合は64。
	MaxIdleConnsPerHost int
	// Tracing がtrueの場合、OpenTelemetryのスパンを送信リクエストごとに生成する。
	Tracing bool
}

// defaultTimeout はOptions.Timeoutが未指定の場合のタイムアウト。
const defaultTimeout = 30 * time.Second

// New は新しい転送用HTTPクライアントを生成する。
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 64
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.MaxIdleConnsPerHost = opts.MaxIdleConnsPerHost
	base.IdleConnTimeout = 90 * time.Second

	var transport http.RoundTripper = base
	if opts.Tracing {
		transport = otelhttp.NewTransport(base)
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: opts.Timeout,
	}
}

// Timeout は1回の転送に許す最大時間を返す。
func (c *Client) Timeout() time.Duration { return c.timeout }

// WithTimeout は転送用のタイムアウト付きコンテキストを返す。
// レスポンスボディを読み終えるまでcancelを呼んではならない。
func (c *Client) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Do はリクエストを送信する。タイムアウトはreqのコンテキストで制御する。
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// Failure は転送失敗の分類。
type Failure int

const (
	// FailureNone は失敗していないことを表す。
	FailureNone Failure = iota
	// FailureTimeout はバックエンドが制限時間内に応答しなかったことを表す。
	FailureTimeout
	// FailureUnavailable はバックエンドに接続できなかったことを表す。
	FailureUnavailable
	// FailureCanceled は呼び出し元がリクエストを取り消したことを表す。
	FailureCanceled
	// FailureOther はそれ以外の通信失敗を表す。
	FailureOther
)

// String は分類名を返す。
func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureTimeout:
		return "timeout"
	case FailureUnavailable:
		return "unavailable"
	case FailureCanceled:
		return "canceled"
	default:
		return "other"
	}
}

// Classify はDoが返したエラーを分類する。
func Classify(err error) Failure {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	if errors.Is(err, context.Canceled) {
		return FailureCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return FailureUnavailable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureUnavailable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return FailureUnavailable
	}
	return FailureOther
}
