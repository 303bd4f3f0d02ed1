package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadStatus summarizes the reload history for the admin API.
type ReloadStatus struct {
	Path        string    `json:"path,omitempty"`
	Watching    bool      `json:"watching"`
	Succeeded   uint64    `json:"succeeded"`
	Failed      uint64    `json:"failed"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Reloader holds the active configuration and swaps it for a freshly loaded
// one on request. Requests come from the multiplexer's reload hook (reload
// signal or admin API) and, when enabled, from an fsnotify file watcher.
type Reloader struct {
	mu        sync.RWMutex
	current   *Config
	path      string
	logger    *slog.Logger
	callbacks []func(*Config)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stopOnce  sync.Once
	debounce  time.Duration

	statusMu sync.Mutex
	status   ReloadStatus
}

// NewReloader creates a Reloader for the given config file path. An empty
// path means the process runs on defaults and Reload is a no-op.
func NewReloader(path string, initial *Config, logger *slog.Logger) *Reloader {
	return &Reloader{
		current:  initial,
		path:     path,
		logger:   logger,
		stopCh:   make(chan struct{}),
		debounce: 300 * time.Millisecond,
		status:   ReloadStatus{Path: path},
	}
}

// Status returns a copy of the reload history.
func (r *Reloader) Status() ReloadStatus {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.status
}

func (r *Reloader) recordResult(err error) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	if err != nil {
		r.status.Failed++
		r.status.LastError = err.Error()
		return
	}
	r.status.Succeeded++
	r.status.LastSuccess = time.Now()
	r.status.LastError = ""
}

// Current returns the active configuration (thread-safe).
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload registers a callback that is invoked with the new config
// after a successful reload.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Watch starts the fsnotify watcher. The parent directory is watched rather
// than the file, so editors and config management tools that replace the
// file by rename keep triggering reloads. Must be called at most once.
func (r *Reloader) Watch() {
	if r.path == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Error("failed to create file watcher", "error", err)
		return
	}
	r.watcher = watcher

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		r.logger.Error("failed to watch config directory", "dir", dir, "error", err)
		watcher.Close()
		r.watcher = nil
		return
	}

	r.statusMu.Lock()
	r.status.Watching = true
	r.statusMu.Unlock()
	r.logger.Info("config file watcher started", "path", r.path)

	go r.watchLoop()
}

// Stop terminates the file watcher.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.watcher != nil {
			r.watcher.Close()
		}
		r.statusMu.Lock()
		r.status.Watching = false
		r.statusMu.Unlock()
	})
}

// Reload loads the config from disk, validates it, and if valid swaps it
// in and notifies all registered callbacks. Returns true if the reload
// succeeded.
func (r *Reloader) Reload() bool {
	if r.path == "" {
		r.logger.Info("no config file to reload, keeping defaults")
		return false
	}

	r.logger.Info("reloading configuration", "path", r.path)

	newCfg, err := Load(r.path)
	if err != nil {
		r.logger.Error("config reload failed: invalid config, keeping current",
			"path", r.path, "error", err)
		r.recordResult(err)
		return false
	}

	r.mu.Lock()
	old := r.current
	r.current = newCfg
	callbacks := make([]func(*Config), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	for _, w := range newCfg.Warnings {
		r.logger.Warn("config warning", "message", w)
	}
	r.logChanges(old, newCfg)

	for _, cb := range callbacks {
		cb(newCfg)
	}
	r.recordResult(nil)

	r.logger.Info("configuration reloaded successfully")
	return true
}

// watchLoop processes fsnotify events with debouncing.
func (r *Reloader) watchLoop() {
	// Editors often write multiple events on save.
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(r.debounce, func() {
					r.Reload()
				})
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("file watcher error", "error", err)
		case <-r.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

// logChanges logs what changed between the old and new config. Listener
// settings only take effect after a restart, so changes there are warnings.
func (r *Reloader) logChanges(old, new *Config) {
	if old.Server != new.Server {
		r.logger.Warn("server settings changed; restart required to apply",
			"old_port", old.Server.Port,
			"new_port", new.Server.Port,
			"old_backlog", old.Server.Backlog,
			"new_backlog", new.Server.Backlog,
		)
	}

	if old.Reload.Signal != new.Reload.Signal {
		r.logger.Warn("reload signal changed; restart required to apply",
			"old", old.Reload.Signal,
			"new", new.Reload.Signal,
		)
	}

	if old.Logging.Level != new.Logging.Level {
		r.logger.Info("log level changed",
			"old", old.Logging.Level,
			"new", new.Logging.Level,
		)
	}

	if old.Files.PrimesLimit != new.Files.PrimesLimit {
		r.logger.Info("primes limit changed",
			"old", old.Files.PrimesLimit,
			"new", new.Files.PrimesLimit,
		)
	}

	if old.Admin.Auth.Enabled != new.Admin.Auth.Enabled {
		r.logger.Info("admin auth enabled changed",
			"old", old.Admin.Auth.Enabled,
			"new", new.Admin.Auth.Enabled,
		)
	}
}
