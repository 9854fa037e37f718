package middleware

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoreboard_http_requests_total",
			Help: "HTTP requests by route template and status code",
		},
		[]string{"route", "method", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scoreboard_http_request_duration_seconds",
			Help:    "Time spent serving HTTP requests",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"route"},
	)
	httpRefusals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoreboard_http_refusals_total",
			Help: "Requests refused for auth, eligibility or throttling",
		},
		[]string{"route", "code"},
	)
)

// InitPrometheus registers the metrics. Call this from main.go
func InitPrometheus() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpRefusals)
}

// routeLabel uses the mux path template so /board/{key} is one series, not
// one per board.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// MonitorMiddleware records count and latency of every request.
func MonitorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := routeLabel(r)
		code := strconv.Itoa(rec.status)
		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		if !rec.hijacked {
			httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
		switch rec.status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
			httpRefusals.WithLabelValues(route, code).Inc()
		}
	})
}

// statusRecorder remembers the status written. It passes Hijack through so
// websocket upgrades work behind the monitor.
type statusRecorder struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		rec.hijacked = true
		rec.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func secretsMatch(got, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// BasicAuthMiddleware protects /metrics. With METRICS_USER unset the
// endpoint stays closed.
func BasicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !secretsMatch(user, os.Getenv("METRICS_USER")) || !secretsMatch(pass, os.Getenv("METRICS_PASS")) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PprofSecurityMiddleware protects /debug/pprof behind X-Pprof-Secret.
func PprofSecurityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !secretsMatch(r.Header.Get("X-Pprof-Secret"), os.Getenv("PPROF_SECRET")) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
