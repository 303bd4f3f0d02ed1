// Package metrics provides Prometheus instrumentation for the connection
// multiplexer and its admin API. All metric collectors are registered via the
// Init function and exposed through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsAccepted counts client connections accepted by the loop.
	ConnectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hellomux_connections_accepted_total",
			Help: "Total client connections accepted",
		},
	)

	// ConnectionsOpen tracks client descriptors currently in the polled set.
	ConnectionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hellomux_connections_open",
			Help: "Number of client connections currently open",
		},
	)

	// Disconnects counts removed client descriptors by reason
	// (eof, read_error, write_error, shutdown).
	Disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hellomux_disconnects_total",
			Help: "Total client connections removed from the polled set",
		},
		[]string{"reason"},
	)

	// ResponsesTotal counts fixed responses fully written.
	ResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hellomux_responses_total",
			Help: "Total responses written to clients",
		},
	)

	// BytesRead counts bytes read from clients.
	BytesRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hellomux_bytes_read_total",
			Help: "Total bytes read from clients",
		},
	)

	// AcceptErrors counts failed accept calls, excluding EAGAIN.
	AcceptErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hellomux_accept_errors_total",
			Help: "Total accept failures",
		},
	)

	// Reloads counts reload notifications observed by the loop by source.
	Reloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hellomux_reloads_total",
			Help: "Total reload notifications observed",
		},
		[]string{"source"},
	)

	// PollWakeups counts readiness waits that returned ready descriptors.
	PollWakeups = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hellomux_poll_wakeups_total",
			Help: "Total readiness wait returns with ready descriptors",
		},
	)

	// AdminRequests counts admin API requests by path and status code.
	AdminRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hellomux_admin_requests_total",
			Help: "Total admin API requests",
		},
		[]string{"path", "status"},
	)

	// AdminAuthFailures counts admin authentication failures by reason.
	AdminAuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hellomux_admin_auth_failures_total",
			Help: "Total admin API authentication failures",
		},
		[]string{"reason"},
	)

	// AdminPanics counts admin handler panics caught by the recovery
	// middleware.
	AdminPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hellomux_admin_panics_total",
			Help: "Total admin API handler panics recovered",
		},
	)
)

// Collectors returns every collector defined by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ConnectionsAccepted,
		ConnectionsOpen,
		Disconnects,
		ResponsesTotal,
		BytesRead,
		AcceptErrors,
		Reloads,
		PollWakeups,
		AdminRequests,
		AdminAuthFailures,
		AdminPanics,
	}
}

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup.
func Init() {
	prometheus.MustRegister(Collectors()...)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
