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

	// NotifyOnlineClients 当前保持 WebSocket 连接的通知客户端数
	NotifyOnlineClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_online_clients",
			Help: "Number of connected notification clients",
		},
	)

	// NotifyEventCounter 按通知类型和方向统计推送事件
	NotifyEventCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_events_total",
			Help: "Total number of notification events by type and direction",
		},
		[]string{"type", "direction"},
	)

	// RelationshipOpCounter 按操作和结果统计好友关系操作
	RelationshipOpCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relationship_ops_total",
			Help: "Total number of relationship operations by op and outcome",
		},
		[]string{"op", "outcome"},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(NotifyOnlineClients)
	prometheus.MustRegister(NotifyEventCounter)
	prometheus.MustRegister(RelationshipOpCounter)
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
