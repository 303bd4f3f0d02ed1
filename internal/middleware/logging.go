// Package middleware holds the HTTP middleware wrapped around the admin API:
// panic recovery, request IDs, access logging and response hardening.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dskow/hellomux/internal/metrics"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Logging returns middleware that logs each request and counts it in the
// admin request metric. The metric's path label is the matched ServeMux
// pattern, so /files/{name} stays one series however many names are asked
// for. Unmatched requests are labelled "unmatched". Probes hitting /health
// and /ready log at debug.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(recorder, r)

			pattern := r.Pattern
			if pattern == "" {
				pattern = "unmatched"
			}
			metrics.AdminRequests.WithLabelValues(pattern, strconv.Itoa(recorder.statusCode)).Inc()

			level := slog.LevelInfo
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "admin request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.statusCode,
				"latency_ms", time.Since(start).Milliseconds(),
				"client_ip", r.RemoteAddr,
				"request_id", GetRequestID(r.Context()),
			)
		})
	}
}
