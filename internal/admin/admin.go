// Package admin provides the admin API of the multiplexer: runtime stats,
// the recent event journal, the redacted active config, a manual reload
// trigger, and read access to the virtual files. Every endpoint sits behind
// the IP allowlist and, when enabled, JWT bearer auth.
package admin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dskow/hellomux/internal/apierror"
	"github.com/dskow/hellomux/internal/auth"
	"github.com/dskow/hellomux/internal/config"
	"github.com/dskow/hellomux/internal/journal"
	"github.com/dskow/hellomux/internal/mux"
	"github.com/dskow/hellomux/internal/procfile"
)

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// reloadReporter is implemented by providers that keep a reload history.
type reloadReporter interface {
	Status() config.ReloadStatus
}

// Multiplexer is the part of the connection multiplexer the admin API drives.
type Multiplexer interface {
	Stats() mux.Stats
	TriggerReload()
}

// EventSource exposes the event journal.
type EventSource interface {
	Snapshot() []journal.Event
	Total() uint64
}

// FileLookup resolves virtual files by name.
type FileLookup interface {
	Lookup(name string) (procfile.File, bool)
	Names() []string
}

// Handler provides admin API endpoints.
type Handler struct {
	reloader ConfigProvider
	mux      Multiplexer
	events   EventSource
	files    FileLookup
	reloads  *rate.Limiter
	authMW   func(http.Handler) http.Handler
	logger   *slog.Logger

	// Allowlist parsed from the config it was built from; rebuilt when the
	// reloader hands out a new config.
	netsMu  sync.Mutex
	netsCfg *config.Config
	nets    []*net.IPNet
}

// New creates an admin Handler. Manual reloads are limited to
// reloadPerMinute, with the same number available as an initial burst.
func New(
	reloader ConfigProvider,
	m Multiplexer,
	events EventSource,
	files FileLookup,
	reloadPerMinute int,
	logger *slog.Logger,
) *Handler {
	if reloadPerMinute < 1 {
		reloadPerMinute = 1
	}
	h := &Handler{
		reloader: reloader,
		mux:      m,
		events:   events,
		files:    files,
		reloads:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(reloadPerMinute)), reloadPerMinute),
		logger:   logger,
	}
	h.authMW = auth.Middleware(func() config.AuthConfig {
		return h.reloader.Current().Admin.Auth
	}, logger)
	return h
}

// RegisterRoutes adds admin routes to the given mux.
func (h *Handler) RegisterRoutes(router *http.ServeMux) {
	router.Handle("/admin/config", h.guard(http.MethodGet, h.configHandler))
	router.Handle("/admin/stats", h.guard(http.MethodGet, h.statsHandler))
	router.Handle("/admin/events", h.guard(http.MethodGet, h.eventsHandler))
	router.Handle("/admin/reload", h.guard(http.MethodPost, h.reloadHandler))
	router.Handle("/files/", h.guard(http.MethodGet, h.filesIndexHandler))
	router.Handle("/files/{name}", h.guard(http.MethodGet, h.fileHandler))
}

// guard wraps a handler with method, IP allowlist and auth checks, in that
// order.
func (h *Handler) guard(method string, next http.HandlerFunc) http.Handler {
	authed := h.authMW(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed,
				"method "+r.Method+" not allowed")
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			apierror.WriteJSON(w, r, http.StatusForbidden, apierror.Forbidden, "client address not allowed")
			return
		}
		authed.ServeHTTP(w, r)
	})
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets() {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (h *Handler) allowedNets() []*net.IPNet {
	cfg := h.reloader.Current()

	h.netsMu.Lock()
	defer h.netsMu.Unlock()
	if cfg == h.netsCfg {
		return h.nets
	}
	nets := make([]*net.IPNet, 0, len(cfg.Admin.IPAllowlist))
	for _, cidr := range cfg.Admin.IPAllowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	h.netsCfg = cfg
	h.nets = nets
	return nets
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.reloader.Current()

	redacted := *cfg
	if redacted.Admin.Auth.JWTSecret != "" {
		redacted.Admin.Auth.JWTSecret = "***"
	}

	writeJSON(w, http.StatusOK, redacted)
}

type statsResponse struct {
	Multiplexer    mux.Stats            `json:"multiplexer"`
	EventsRecorded uint64               `json:"events_recorded"`
	Files          []string             `json:"files"`
	ConfigReloads  *config.ReloadStatus `json:"config_reloads,omitempty"`
}

func (h *Handler) statsHandler(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Multiplexer:    h.mux.Stats(),
		EventsRecorded: h.events.Total(),
		Files:          h.files.Names(),
	}
	if rr, ok := h.reloader.(reloadReporter); ok {
		st := rr.Status()
		resp.ConfigReloads = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// eventsHandler returns retained journal events, oldest first. ?limit=N
// keeps only the newest N.
func (h *Handler) eventsHandler(w http.ResponseWriter, r *http.Request) {
	events := h.events.Snapshot()

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.BadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(events) {
			events = events[len(events)-limit:]
		}
	}
	if events == nil {
		events = []journal.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  h.events.Total(),
	})
}

func (h *Handler) reloadHandler(w http.ResponseWriter, r *http.Request) {
	if !h.reloads.Allow() {
		h.logger.Warn("manual reload rejected by rate limit", "client_ip", extractIP(r.RemoteAddr))
		apierror.WriteJSON(w, r, http.StatusTooManyRequests, apierror.RateLimitExceeded,
			"reload rate limit exceeded, retry later")
		return
	}

	h.mux.TriggerReload()
	h.logger.Info("manual reload requested", "client_ip", extractIP(r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reload requested"})
}

func (h *Handler) filesIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/files/" {
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.NotFound, "no such file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": h.files.Names()})
}

// fileHandler reads a virtual file through its cursor: ?offset=0 (the
// default) returns the content, any positive offset returns an empty body.
func (h *Handler) fileHandler(w http.ResponseWriter, r *http.Request) {
	f, ok := h.files.Lookup(r.PathValue("name"))
	if !ok {
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.NotFound, "no such file")
		return
	}

	var off int64
	if s := r.URL.Query().Get("offset"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.BadRequest, "offset must be a non-negative integer")
			return
		}
		off = v
	}

	buf := make([]byte, f.Size())
	n, err := f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("virtual file read failed", "file", f.Name(), "error", err)
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "file read failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	w.Write(buf[:n]) //nolint:errcheck
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
