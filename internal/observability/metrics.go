package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_http_requests_total",
			Help: "Total number of HTTP requests processed by the presence service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "presence_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"event"},
	)
	presenceEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_broadcasts_total",
			Help: "Total number of presence broadcasts by transition.",
		},
		[]string{"transition"},
	)
	messagesRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_messages_routed_total",
			Help: "Total number of routed messages by outcome.",
		},
		[]string{"outcome"},
	)
	sweepRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_session_sweeps_total",
			Help: "Total number of timeout sweeper runs.",
		},
	)
	sessionsWarnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_sessions_warned_total",
			Help: "Total number of session warnings emitted.",
		},
	)
	sessionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_sessions_expired_total",
			Help: "Total number of sessions expired by the sweeper.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		presenceEventsTotal,
		messagesRoutedTotal,
		sweepRunsTotal,
		sessionsWarnedTotal,
		sessionsExpiredTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncPresenceEvent(transition string) {
	presenceEventsTotal.WithLabelValues(transition).Inc()
}

func IncMessageRouted(outcome string) {
	messagesRoutedTotal.WithLabelValues(outcome).Inc()
}

func IncSweepRun() {
	sweepRunsTotal.Inc()
}

func IncSessionWarned() {
	sessionsWarnedTotal.Inc()
}

func IncSessionExpired() {
	sessionsExpiredTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
