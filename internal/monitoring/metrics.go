package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tempmailhub/backend/internal/domain"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 渠道请求指标
	ChannelRequestsTotal   *prometheus.CounterVec
	ChannelRequestDuration *prometheus.HistogramVec
	ChannelHealthStatus    *prometheus.GaugeVec

	// 业务指标
	EmailsCreated   *prometheus.CounterVec
	EmailsListed    *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	PanicsTotal     prometheus.Counter
	RateLimitBlocks prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmailhub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmailhub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		ChannelRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmailhub_channel_requests_total",
				Help: "Total number of upstream channel requests",
			},
			[]string{"channel", "operation", "outcome"},
		),

		ChannelRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmailhub_channel_request_duration_seconds",
				Help:    "Upstream channel request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel", "operation"},
		),

		ChannelHealthStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tempmailhub_channel_health_status",
				Help: "Channel health status (1 active, 0.5 degraded, 0 error)",
			},
			[]string{"channel"},
		),

		EmailsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmailhub_emails_created_total",
				Help: "Total number of temporary email addresses created",
			},
			[]string{"channel"},
		),

		EmailsListed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmailhub_emails_listed_total",
				Help: "Total number of inbox list operations",
			},
			[]string{"channel"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmailhub_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmailhub_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		RateLimitBlocks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmailhub_rate_limit_blocks_total",
				Help: "Total number of requests blocked by rate limiting",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordChannelRequest 记录一次上游渠道调用
func (m *Metrics) RecordChannelRequest(channel, operation string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.ChannelRequestsTotal.WithLabelValues(channel, operation, outcome).Inc()
	m.ChannelRequestDuration.WithLabelValues(channel, operation).Observe(duration.Seconds())
}

// RecordChannelHealth 记录渠道健康状态
func (m *Metrics) RecordChannelHealth(channel string, status domain.ChannelStatus) {
	value := 0.0
	switch status {
	case domain.ChannelStatusActive:
		value = 1.0
	case domain.ChannelStatusDegraded:
		value = 0.5
	}
	m.ChannelHealthStatus.WithLabelValues(channel).Set(value)
}

// RecordError 记录错误指标
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic 指标
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拦截
func (m *Metrics) RecordRateLimitBlock() {
	m.RateLimitBlocks.Inc()
}

// Handler 返回 prometheus 抓取端点
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
