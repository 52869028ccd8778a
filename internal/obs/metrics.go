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
	initOnce sync.Once

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

	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Tokens minted, by class.",
		},
		[]string{"class"},
	)

	gateOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_gate_outcomes_total",
			Help: "Auth gate decisions, by outcome.",
		},
		[]string{"outcome"},
	)

	rateLimitRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_rejections_total",
		Help: "Requests rejected by the rate limiter.",
	})

	rateLimitTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ratelimit_tracked_keys",
		Help: "Client/route keys currently tracked by the in-memory limiter.",
	})

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dishdash_build_info",
			Help: "Version and commit of the running dishdash-api binary.",
		},
		[]string{"version", "commit"},
	)
)

// Init registers collectors in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			tokensIssued, gateOutcomes, rateLimitRejections, rateLimitTracked,
			buildInfo,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo reports the running build. Only one label set is kept.
func SetBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// TokenIssued counts a minted token.
func TokenIssued(class string) {
	tokensIssued.WithLabelValues(class).Inc()
}

// GateOutcome counts an auth gate decision.
func GateOutcome(outcome string) {
	gateOutcomes.WithLabelValues(outcome).Inc()
}

// RateLimited counts a rejected request.
func RateLimited() {
	rateLimitRejections.Inc()
}

// SetRateLimitTracked reports the limiter's tracked key count.
func SetRateLimitTracked(n int) {
	rateLimitTracked.Set(float64(n))
}

// Instrument measures in-flight requests, totals and latency.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

var knownPaths = map[string]struct{}{
	"/":                 {},
	"/healthz":          {},
	"/readyz":           {},
	"/metrics":          {},
	"/v1/info":          {},
	"/api/auth/login":   {},
	"/api/auth/refresh": {},
	"/api/profile":      {},
	"/api/users":        {},
}

// CanonicalPath keeps metric label cardinality bounded: unknown paths
// collapse to "other".
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return "other"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
