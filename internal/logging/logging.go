package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dskow/hellomux/internal/config"
)

// New builds the process logger from cfg. Records at or above level are
// written as JSON to the configured output and, when cfg.Syslog is set, to
// the system logger under cfg.SyslogTag. The returned Closer releases the
// log file and syslog connection; it is safe to call when neither is open.
func New(cfg config.LoggingConfig, level *slog.LevelVar) (*slog.Logger, io.Closer, error) {
	if level == nil {
		level = new(slog.LevelVar)
		level.Set(cfg.SlogLevel())
	}
	opts := &slog.HandlerOptions{Level: level}

	var closers multiCloser
	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		rw, err := NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, nil, err
		}
		out = rw
		closers = append(closers, rw)
	}

	var handler slog.Handler = slog.NewJSONHandler(out, opts)

	if cfg.Syslog {
		w, err := openSyslog(cfg.SyslogTag)
		if err != nil {
			closers.Close() //nolint:errcheck
			return nil, nil, fmt.Errorf("connecting to syslog: %w", err)
		}
		closers = append(closers, w)
		handler = Fanout(handler, NewSyslogHandler(w, opts))
	}

	return slog.New(handler), closers, nil
}

type multiCloser []io.Closer

func (mc multiCloser) Close() error {
	var errs []error
	for _, c := range mc {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fanoutHandler hands each record to every child handler that accepts it.
type fanoutHandler struct {
	handlers []slog.Handler
}

// Fanout returns a handler that duplicates records across handlers.
func Fanout(handlers ...slog.Handler) slog.Handler {
	return &fanoutHandler{handlers: handlers}
}

func (f *fanoutHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: hs}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: hs}
}
