package analytics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application collectors served at /metrics.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quill",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quill",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	registrations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "accounts",
			Name:      "registrations_total",
			Help:      "Accounts created.",
		},
	)

	toggles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "engagement",
			Name:      "toggles_total",
			Help:      "Favorite and follow toggles by resulting state.",
		},
		[]string{"kind", "state"},
	)

	ratings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "engagement",
			Name:      "ratings_total",
			Help:      "Rating submissions, including updates.",
		},
	)

	postViews = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "blog",
			Name:      "post_views_total",
			Help:      "Post detail views recorded.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		registrations,
		toggles,
		ratings,
		postViews,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func RecordRegistration() {
	registrations.Inc()
}

// RecordToggle counts a favorite or follow toggle. kind is "favorite" or "follow".
func RecordToggle(kind string, on bool) {
	state := "off"
	if on {
		state = "on"
	}
	toggles.WithLabelValues(kind, state).Inc()
}

func RecordRating() {
	ratings.Inc()
}
