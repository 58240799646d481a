package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute はルートテーブルに一致しなかったリクエストのラベル値。
const unmatchedRoute = "unmatched"

// metrics はゲートウェイのPrometheusコレクター。
// Serverごとにレジストリを持つため、テストで複数のServerを生成しても衝突しない。
type metrics struct {
	// registry はコレクターの登録先。
	registry *prometheus.Registry
	// inFlight は処理中のリクエスト数。
	inFlight prometheus.Gauge
	// requests はルート・メソッド・ステータスごとのリクエスト数。
	requests *prometheus.CounterVec
	// duration はルートごとの処理時間。
	duration *prometheus.HistogramVec
	// denials は認可述語による拒否数。
	denials *prometheus.CounterVec
	// backendFailures はバックエンドへの転送失敗数。
	backendFailures *prometheus.CounterVec
}

// newMetrics はコレクターを生成して新しいレジストリに登録する。
func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight requests.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of requests handled by the gateway.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of requests from receipt to the last byte written.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"route"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "authz",
			Name:      "denials_total",
			Help:      "Total number of requests denied by an authorization predicate.",
		}, []string{"route", "predicate", "status"}),
		backendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "backend",
			Name:      "failures_total",
			Help:      "Total number of forwarding failures by backend and failure class.",
		}, []string{"backend", "kind"}),
	}
	m.registry.MustRegister(
		m.inFlight,
		m.requests,
		m.duration,
		m.denials,
		m.backendFailures,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// handler はレジストリの内容を公開するHTTPハンドラを返す。
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observe は完了したリクエストを記録する。
func (m *metrics) observe(routeName, method string, status int, elapsed time.Duration) {
	if routeName == "" {
		routeName = unmatchedRoute
	}
	m.requests.WithLabelValues(routeName, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(routeName).Observe(elapsed.Seconds())
}

// denied は認可述語による拒否を記録する。
func (m *metrics) denied(routeName, predicate string, status int) {
	m.denials.WithLabelValues(routeName, predicate, strconv.Itoa(status)).Inc()
}

// backendFailed は転送失敗を記録する。
func (m *metrics) backendFailed(backend, kind string) {
	m.backendFailures.WithLabelValues(backend, kind).Inc()
}
