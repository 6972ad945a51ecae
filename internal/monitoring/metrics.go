package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mailbucket"

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 入站指标
	InboundSubmissions  *prometheus.CounterVec
	InboundRejections   *prometheus.CounterVec
	InboundProcessTime  prometheus.Histogram
	EmailsRecorded      prometheus.Counter
	EmailsDropped       *prometheus.CounterVec
	NotificationsQueued *prometheus.CounterVec

	// 收件桶指标
	BucketsCreated prometheus.Counter
	BucketsDeleted prometheus.Counter
	BucketsExpired prometheus.Counter

	// 实时推送
	WebsocketClients prometheus.Gauge

	// 错误与限流
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec

	SystemUptime prometheus.Gauge
	startedAt    time.Time
}

// NewMetrics 创建监控指标，每个实例使用独立的注册表
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		InboundSubmissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbound_submissions_total",
				Help:      "Inbound submissions by outcome (accepted, rejected, malformed)",
			},
			[]string{"source", "outcome"},
		),

		InboundRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbound_rejections_total",
				Help:      "Inbound submissions rejected by the encoding gate, by reason",
			},
			[]string{"reason"},
		),

		InboundProcessTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "inbound_processing_seconds",
				Help:      "Time spent normalizing and recording one submission",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),

		EmailsRecorded: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "emails_recorded_total",
				Help:      "Total number of emails persisted into buckets",
			},
		),

		EmailsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "emails_dropped_total",
				Help:      "Accepted emails that could not be recorded, by cause",
			},
			[]string{"cause"},
		),

		NotificationsQueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Bucket event notifications by result (queued, dropped)",
			},
			[]string{"result"},
		),

		BucketsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buckets_created_total",
				Help:      "Total number of buckets created",
			},
		),

		BucketsDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buckets_deleted_total",
				Help:      "Total number of buckets deleted by their owner",
			},
		),

		BucketsExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buckets_expired_total",
				Help:      "Total number of buckets removed by the expiry sweep",
			},
		),

		WebsocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_clients",
				Help:      "Number of connected websocket clients",
			},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "panics_total",
				Help:      "Total number of recovered panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_blocks_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"endpoint"},
		),

		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_uptime_seconds",
				Help:      "System uptime in seconds",
			},
		),
		startedAt: time.Now(),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordAccepted 记录被接受的入站提交
func (m *Metrics) RecordAccepted(source string, duration time.Duration) {
	m.InboundSubmissions.WithLabelValues(source, "accepted").Inc()
	m.InboundProcessTime.Observe(duration.Seconds())
}

// RecordRejected 记录被编码校验拒绝的入站提交
func (m *Metrics) RecordRejected(source, reason string) {
	m.InboundSubmissions.WithLabelValues(source, "rejected").Inc()
	m.InboundRejections.WithLabelValues(reason).Inc()
}

// RecordMalformed 记录结构化字段格式错误的入站提交
func (m *Metrics) RecordMalformed(source string) {
	m.InboundSubmissions.WithLabelValues(source, "malformed").Inc()
}

// RecordEmailStored 记录邮件入库
func (m *Metrics) RecordEmailStored() {
	m.EmailsRecorded.Inc()
}

// RecordEmailDropped 记录无法入库的邮件
func (m *Metrics) RecordEmailDropped(cause string) {
	m.EmailsDropped.WithLabelValues(cause).Inc()
}

// RecordNotification 记录事件通知是否成功入队
func (m *Metrics) RecordNotification(queued bool) {
	result := "queued"
	if !queued {
		result = "dropped"
	}
	m.NotificationsQueued.WithLabelValues(result).Inc()
}

// RecordBucketCreated 记录收件桶创建
func (m *Metrics) RecordBucketCreated() {
	m.BucketsCreated.Inc()
}

// RecordBucketDeleted 记录收件桶删除
func (m *Metrics) RecordBucketDeleted() {
	m.BucketsDeleted.Inc()
}

// RecordBucketsExpired 记录过期清理数量
func (m *Metrics) RecordBucketsExpired(count int) {
	m.BucketsExpired.Add(float64(count))
}

// RecordPanic 记录恐慌
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拦截
func (m *Metrics) RecordRateLimitBlock(endpoint string) {
	m.RateLimitBlocks.WithLabelValues(endpoint).Inc()
}

// SetWebsocketClients 更新在线 websocket 客户端数量
func (m *Metrics) SetWebsocketClients(count int) {
	m.WebsocketClients.Set(float64(count))
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// updateUptime 在每次抓取前刷新运行时长
func (m *Metrics) updateUptime() {
	m.SystemUptime.Set(time.Since(m.startedAt).Seconds())
}

// UptimeMiddleware 包装 HTTPHandler，抓取时刷新运行时长
func (m *Metrics) UptimeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.updateUptime()
		next.ServeHTTP(w, r)
	})
}
