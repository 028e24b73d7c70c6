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
// LINE連携、保存、仕上げワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordWebhookEvent(eventType, outcome string)
	RecordLinkExchange(outcome string)
	RecordDrawingSaved(gratitude bool)
	RecordEnhancement(outcome string, duration time.Duration)
	RecordRemindersSent(count int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	webhookEvents      *prometheus.CounterVec
	linkExchanges      *prometheus.CounterVec
	drawingsSaved      *prometheus.CounterVec
	enhancements       *prometheus.CounterVec
	enhancementLatency prometheus.Histogram
	remindersSent      prometheus.Counter
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paintedminds_line_webhook_events_total",
			Help: "LINE Webhookイベントの処理数",
		}, []string{"event_type", "outcome"}),
		linkExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paintedminds_line_link_exchanges_total",
			Help: "連携コード交換の結果別の件数",
		}, []string{"outcome"}),
		drawingsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paintedminds_drawings_saved_total",
			Help: "保存された絵の数",
		}, []string{"kind"}),
		enhancements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paintedminds_enhancements_total",
			Help: "仕上げ処理の結果別の件数",
		}, []string{"outcome"}),
		enhancementLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "paintedminds_enhancement_duration_seconds",
			Help:    "仕上げ処理の所要時間（秒）",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		remindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paintedminds_line_reminders_sent_total",
			Help: "送信したリマインダーの数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paintedminds_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.webhookEvents,
		c.linkExchanges,
		c.drawingsSaved,
		c.enhancements,
		c.enhancementLatency,
		c.remindersSent,
		c.httpStatus,
	)

	return c
}

// RecordWebhookEvent はWebhookイベントの処理結果を記録する。
func (c *Collector) RecordWebhookEvent(eventType, outcome string) {
	c.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordLinkExchange は連携コード交換の結果を記録する。
func (c *Collector) RecordLinkExchange(outcome string) {
	c.linkExchanges.WithLabelValues(outcome).Inc()
}

// RecordDrawingSaved は絵の保存を記録する。
func (c *Collector) RecordDrawingSaved(gratitude bool) {
	kind := "drawing"
	if gratitude {
		kind = "gratitude"
	}
	c.drawingsSaved.WithLabelValues(kind).Inc()
}

// RecordEnhancement は仕上げ処理の結果と所要時間を記録する。
func (c *Collector) RecordEnhancement(outcome string, duration time.Duration) {
	c.enhancements.WithLabelValues(outcome).Inc()
	c.enhancementLatency.Observe(duration.Seconds())
}

// RecordRemindersSent は送信したリマインダー数を加算する。
func (c *Collector) RecordRemindersSent(count int) {
	c.remindersSent.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
