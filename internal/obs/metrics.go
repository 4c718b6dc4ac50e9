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

// HTTP metrics shared by every service.
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

// Trust boundary metrics.
var (
	circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ems_circuit_state",
			Help: "Circuit breaker state per upstream link (0 closed, 1 open, 2 half-open).",
		},
		[]string{"link"},
	)

	circuitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ems_circuit_transitions_total",
			Help: "Circuit breaker state transitions.",
		},
		[]string{"link", "to"},
	)

	tokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ems_tokens_issued_total",
		Help: "Access tokens minted.",
	})

	loginFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ems_login_failures_total",
			Help: "Failed login attempts by reason.",
		},
		[]string{"reason"},
	)

	gatewayRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ems_gateway_rejections_total",
			Help: "Requests rejected at the gateway by reason.",
		},
		[]string{"reason"},
	)
)

var initOnce sync.Once

// Init registers metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			circuitState, circuitTransitions, tokensIssued, loginFailures, gatewayRejections,
		)
	})
}

// Handler serves the Prometheus exposition.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight, count and latency per canonical route.
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

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// CanonicalPath collapses identifiers so label cardinality stays bounded.
// Both the gateway form (/employee-service/api/...) and the direct form
// (/api/...) are recognized.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	segs := strings.Split(strings.Trim(p, "/"), "/")
	start := 0
	if len(segs) > 0 && strings.HasSuffix(segs[0], "-service") {
		start = 1
	}
	rest := segs[start:]
	if len(rest) >= 3 && rest[0] == "api" && rest[1] == "employees" {
		switch {
		case rest[2] == "email" && len(rest) >= 4 && len(rest) <= 5:
			rest[3] = ":email"
		case rest[2] != "email" && len(rest) == 3:
			rest[2] = ":id"
		}
	}
	return "/" + strings.Join(segs, "/")
}

// CircuitStateChanged records a breaker transition.
func CircuitStateChanged(link string, to string, value float64) {
	circuitState.WithLabelValues(link).Set(value)
	circuitTransitions.WithLabelValues(link, to).Inc()
}

// TokenIssued counts a minted token.
func TokenIssued() { tokensIssued.Inc() }

// LoginFailed counts a failed login by reason.
func LoginFailed(reason string) { loginFailures.WithLabelValues(reason).Inc() }

// GatewayRejected counts a gateway rejection by reason.
func GatewayRejected(reason string) { gatewayRejections.WithLabelValues(reason).Inc() }
