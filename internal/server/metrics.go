package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// apiMetrics holds the prometheus instruments for the API. Each handler
// instance carries its own registry so tests can build handlers freely.
type apiMetrics struct {
	requests          *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	clockEvents       *prometheus.CounterVec
	enrollments       prometheus.Counter
	recognitionMisses prometheus.Counter
}

func newAPIMetrics(registry *prometheus.Registry) *apiMetrics {
	metrics := &apiMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attendance_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		clockEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_clock_events_total",
			Help: "Successful clock events by type.",
		}, []string{"type"}),
		enrollments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_enrollments_total",
			Help: "Accepted enrollment submissions.",
		}),
		recognitionMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_recognition_misses_total",
			Help: "Clock attempts where no template cleared the thresholds.",
		}),
	}
	registry.MustRegister(
		metrics.requests,
		metrics.latency,
		metrics.clockEvents,
		metrics.enrollments,
		metrics.recognitionMisses,
	)
	return metrics
}

// instrument is a gin middleware recording request counts and latency.
func (m *apiMetrics) instrument(c *gin.Context) {
	start := time.Now()
	c.Next()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	m.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
}
