// Package main is the entry point for the connection multiplexer. It loads
// configuration, builds the logger, starts the single-threaded event loop
// and the optional admin API, and shuts both down on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dskow/hellomux/internal/admin"
	"github.com/dskow/hellomux/internal/config"
	"github.com/dskow/hellomux/internal/health"
	"github.com/dskow/hellomux/internal/journal"
	"github.com/dskow/hellomux/internal/logging"
	"github.com/dskow/hellomux/internal/metrics"
	"github.com/dskow/hellomux/internal/middleware"
	"github.com/dskow/hellomux/internal/mux"
	"github.com/dskow/hellomux/internal/procfile"
	"github.com/dskow/hellomux/internal/tlsutil"
)

// maxAdminBodyBytes caps admin request bodies; no endpoint reads one.
const maxAdminBodyBytes = 4096

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (defaults are used when empty)")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			bootLogger.Error("failed to load config", "error", err)
			return 1
		}
		cfg = loaded
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Logging.SlogLevel())
	logger, logCloser, err := logging.New(cfg.Logging, level)
	if err != nil {
		bootLogger.Error("failed to set up logging", "error", err)
		return 1
	}
	defer logCloser.Close()

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"backlog", cfg.Server.Backlog,
		"reload_signal", cfg.Reload.Signal,
		"watch_file", cfg.Reload.WatchFile,
		"admin_enabled", cfg.Admin.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	reloadSig, err := config.ParseSignal(cfg.Reload.Signal)
	if err != nil {
		logger.Error("invalid reload signal", "error", err)
		return 1
	}

	events := journal.New(cfg.Admin.JournalSize)
	files := procfile.NewRegistry(filesFor(cfg.Files)...)

	srv, err := mux.New(mux.Config{
		Port:           cfg.Server.Port,
		Backlog:        cfg.Server.Backlog,
		ReadBufferSize: cfg.Server.ReadBufferSize,
		ReloadSignal:   reloadSig,
	}, events, logger)
	if err != nil {
		logger.Error("failed to start multiplexer", "error", err)
		return 1
	}

	var certs *tlsutil.CertLoader
	if cfg.Admin.Enabled && cfg.Admin.TLS.Enabled {
		certs, err = tlsutil.New(cfg.Admin.TLS.CertFile, cfg.Admin.TLS.KeyFile, logger)
		if err != nil {
			logger.Error("failed to load admin TLS certificate", "error", err)
			srv.Close()
			return 1
		}
		if err := certs.Watch(); err != nil {
			logger.Warn("admin TLS certificate watch disabled", "error", err)
		}
		defer certs.Stop()
	}

	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.OnReload(func(newCfg *config.Config) {
		level.Set(newCfg.Logging.SlogLevel())
		files.Replace(filesFor(newCfg.Files)...)
		if certs != nil && newCfg.Admin.TLS.Enabled {
			certs.SetFiles(newCfg.Admin.TLS.CertFile, newCfg.Admin.TLS.KeyFile) //nolint:errcheck
		}
	})
	if cfg.Reload.WatchFile {
		reloader.Watch()
	}
	defer reloader.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startReloadWorker(ctx, srv, reloader)

	var adminSrv *http.Server
	if cfg.Admin.Enabled {
		adminSrv = newAdminServer(cfg, reloader, srv, events, files, logger)
		if certs != nil {
			adminSrv.TLSConfig = certs.TLSConfig(cfg.Admin.TLS.MinVersion)
		}
		go func() {
			var err error
			if certs != nil {
				logger.Info("starting admin API", "addr", adminSrv.Addr, "tls", true)
				err = adminSrv.ListenAndServeTLS("", "")
			} else {
				logger.Info("starting admin API", "addr", adminSrv.Addr, "tls", false)
				err = adminSrv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server error", "error", err)
				stop()
			}
		}()
	}

	serveErr := srv.Serve(ctx)
	stop()

	if adminSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout)
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("forced admin shutdown", "error", err)
		}
		cancel()
	}

	if serveErr != nil && !errors.Is(serveErr, mux.ErrServerClosed) {
		logger.Error("multiplexer stopped", "error", serveErr)
		return 1
	}

	logger.Info("multiplexer stopped gracefully")
	return 0
}

// startReloadWorker connects the multiplexer's reload notifications to the
// config reloader. Hooks run on the loop goroutine, so the disk read happens
// on a worker; requests arriving while one is in flight coalesce.
func startReloadWorker(ctx context.Context, srv *mux.Server, reloader *config.Reloader) {
	reloadReq := make(chan struct{}, 1)
	srv.OnReload(func(mux.ReloadSource) {
		select {
		case reloadReq <- struct{}{}:
		default:
		}
	})

	go func() {
		for {
			select {
			case <-reloadReq:
				reloader.Reload()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func filesFor(fc config.FilesConfig) []procfile.File {
	return []procfile.File{
		procfile.NewStatic(fc.StaticName, fc.StaticContent),
		procfile.NewPrimes(fc.PrimesName, fc.PrimesLimit),
	}
}

// newAdminServer assembles the admin HTTP server:
// Recovery, RequestID, SecurityHeaders, Logging and BodyLimit wrap the routes,
// outermost first.
func newAdminServer(
	cfg *config.Config,
	reloader *config.Reloader,
	srv *mux.Server,
	events *journal.Journal,
	files *procfile.Registry,
	logger *slog.Logger,
) *http.Server {
	router := http.NewServeMux()

	health.New(map[string]health.Check{
		"multiplexer": func() error {
			if !srv.Ready() {
				return errors.New("event loop not running")
			}
			return nil
		},
	}, logger).RegisterRoutes(router)

	if cfg.Metrics.IsEnabled() {
		router.Handle("GET "+cfg.Metrics.Path, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", cfg.Metrics.Path)
	}

	admin.New(reloader, srv, events, files, cfg.Admin.ReloadPerMinute, logger).RegisterRoutes(router)

	var handler http.Handler = router
	handler = middleware.BodyLimit(maxAdminBodyBytes)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	return &http.Server{
		Addr:         cfg.Admin.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Admin.ReadTimeout,
		WriteTimeout: cfg.Admin.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
