package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// 同步队列
	OutboxEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nova_outbox_enqueued_total",
			Help: "Mutations written to the outbox",
		},
		[]string{"kind"},
	)

	OutboxApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nova_outbox_applied_total",
			Help: "Outbox entries applied to the database, by result",
		},
		[]string{"kind", "result"},
	)

	OutboxParked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nova_outbox_parked",
			Help: "Outbox entries that exhausted their retries",
		},
	)

	OutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nova_outbox_pending",
			Help: "Outbox entries waiting to be applied",
		},
	)

	// 实时推送
	RealtimeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nova_realtime_connections",
			Help: "Open realtime websocket connections on this instance",
		},
	)

	RealtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nova_realtime_events_total",
			Help: "Change events published or received",
		},
		[]string{"table", "direction"},
	)

	// 游戏数据
	XPGranted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nova_xp_granted_total",
			Help: "XP granted through task and milestone completion",
		},
		[]string{"source"},
	)

	OracleRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nova_oracle_requests_total",
			Help: "Generative text requests by use case and outcome",
		},
		[]string{"use_case", "outcome"},
	)
)

func Init() {
	prometheus.MustRegister(
		RequestCounter,
		RequestDuration,
		OutboxEnqueued,
		OutboxApplied,
		OutboxParked,
		OutboxPending,
		RealtimeConnections,
		RealtimeEvents,
		XPGranted,
		OracleRequests,
	)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
