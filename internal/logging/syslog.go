package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
)

// PriorityWriter is the subset of *syslog.Writer the syslog handler needs.
type PriorityWriter interface {
	Debug(m string) error
	Info(m string) error
	Warning(m string) error
	Err(m string) error
	Close() error
}

// syslogOutput is shared by a handler and every handler derived from it.
type syslogOutput struct {
	mu  sync.Mutex
	buf bytes.Buffer
	w   PriorityWriter
}

// SyslogHandler formats records as logfmt text and sends each one to the
// system logger at the priority matching its level.
type SyslogHandler struct {
	out   *syslogOutput
	inner slog.Handler
}

// NewSyslogHandler returns a handler writing to w. The timestamp is dropped
// since syslog stamps every message itself.
func NewSyslogHandler(w PriorityWriter, opts *slog.HandlerOptions) *SyslogHandler {
	out := &syslogOutput{w: w}
	var o slog.HandlerOptions
	if opts != nil {
		o = *opts
	}
	userReplace := o.ReplaceAttr
	o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.TimeKey {
			return slog.Attr{}
		}
		if userReplace != nil {
			return userReplace(groups, a)
		}
		return a
	}
	return &SyslogHandler{out: out, inner: slog.NewTextHandler(&out.buf, &o)}
}

func (h *SyslogHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

func (h *SyslogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.out.mu.Lock()
	defer h.out.mu.Unlock()

	h.out.buf.Reset()
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	msg := strings.TrimSuffix(h.out.buf.String(), "\n")

	switch {
	case r.Level >= slog.LevelError:
		return h.out.w.Err(msg)
	case r.Level >= slog.LevelWarn:
		return h.out.w.Warning(msg)
	case r.Level >= slog.LevelInfo:
		return h.out.w.Info(msg)
	default:
		return h.out.w.Debug(msg)
	}
}

func (h *SyslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SyslogHandler{out: h.out, inner: h.inner.WithAttrs(attrs)}
}

func (h *SyslogHandler) WithGroup(name string) slog.Handler {
	return &SyslogHandler{out: h.out, inner: h.inner.WithGroup(name)}
}
