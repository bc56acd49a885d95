// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordAttackEvent(category string, blocked bool)
	RecordAlertDispatched()
	RecordAlertFailed()
	RecordLoginFailure()
	RecordLockout()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	attackEvents    *prometheus.CounterVec
	attackBlocked   *prometheus.CounterVec
	alertDispatched prometheus.Counter
	alertFailed     prometheus.Counter
	loginFailure    prometheus.Counter
	lockout         prometheus.Counter
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		attackEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "civicgate_attack_events_total",
			Help: "分類された攻撃イベントのカテゴリ別合計数",
		}, []string{"category"}),
		attackBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "civicgate_attack_blocked_total",
			Help: "ブロックされた攻撃イベントのカテゴリ別合計数",
		}, []string{"category"}),
		alertDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "civicgate_alert_dispatched_total",
			Help: "送信キューに積まれたアラートの合計数",
		}),
		alertFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "civicgate_alert_failed_total",
			Help: "送信に失敗したアラートの合計数",
		}),
		loginFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "civicgate_login_failure_total",
			Help: "認証失敗の合計数",
		}),
		lockout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "civicgate_lockout_total",
			Help: "アカウントロックアウト発生の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "civicgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "civicgate_request_latency_seconds",
			Help:    "リクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.attackEvents,
		c.attackBlocked,
		c.alertDispatched,
		c.alertFailed,
		c.loginFailure,
		c.lockout,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordAttackEvent は攻撃イベントの分類結果を記録する。
func (c *Collector) RecordAttackEvent(category string, blocked bool) {
	c.attackEvents.WithLabelValues(category).Inc()
	if blocked {
		c.attackBlocked.WithLabelValues(category).Inc()
	}
}

// RecordAlertDispatched はアラートのキュー投入を記録する。
func (c *Collector) RecordAlertDispatched() {
	c.alertDispatched.Inc()
}

// RecordAlertFailed はアラート送信失敗を記録する。
func (c *Collector) RecordAlertFailed() {
	c.alertFailed.Inc()
}

// RecordLoginFailure は認証失敗を記録する。
func (c *Collector) RecordLoginFailure() {
	c.loginFailure.Inc()
}

// RecordLockout はアカウントロックアウトの発生を記録する。
func (c *Collector) RecordLockout() {
	c.lockout.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理のレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusのエクスポート用HTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// アプリケーションのルーターに組み込んで使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	return Handler(gatherer)
}
