package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Bot metrics.
var (
	AccessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_access_decisions_total",
			Help: "Command access decisions by outcome.",
		},
		[]string{"decision"},
	)

	AccessCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_access_cache_total",
			Help: "Access resolver cache lookups by kind (user, command) and result (hit, miss).",
		},
		[]string{"kind", "result"},
	)

	XPGrants = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_xp_grants_total",
			Help: "Activity events processed by the XP engine, by outcome.",
		},
		[]string{"outcome"},
	)

	LevelUps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "concord_level_ups_total",
		Help: "Level-up events emitted.",
	})

	LeaderboardCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_leaderboard_cache_total",
			Help: "Leaderboard page lookups by result (hit, miss, refresh).",
		},
		[]string{"result"},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_notifications_total",
			Help: "Level-up notification deliveries by status.",
		},
		[]string{"status"},
	)

	InterestSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_interest_sweeps_total",
			Help: "Bank interest sweeps by status.",
		},
		[]string{"status"},
	)
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			AccessDecisions, AccessCache, XPGrants, LevelUps,
			LeaderboardCache, Notifications, InterestSweeps,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses guild and member identifiers so label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	// /v1/guilds/{id}/leaderboard
	// /v1/guilds/{id}/members/{id}/{rank|access}
	if len(parts) >= 4 && parts[0] == "v1" && parts[1] == "guilds" {
		switch {
		case len(parts) == 4 && parts[3] == "leaderboard":
			return "/v1/guilds/:id/leaderboard"
		case len(parts) == 6 && parts[3] == "members" && (parts[5] == "rank" || parts[5] == "access"):
			return "/v1/guilds/:id/members/:id/" + parts[5]
		}
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
