// Package config provides YAML configuration loading with validation and
// environment variable substitution for the connection multiplexer.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Reload  ReloadConfig  `yaml:"reload" json:"reload"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Admin   AdminConfig   `yaml:"admin" json:"admin"`
	Files   FilesConfig   `yaml:"files" json:"files"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the file watcher goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds the multiplexed listener settings. Changing any of them
// requires a restart.
type ServerConfig struct {
	Port           int `yaml:"port" json:"port"`
	Backlog        int `yaml:"backlog" json:"backlog"`
	ReadBufferSize int `yaml:"read_buffer_size" json:"read_buffer_size"`
}

// ReloadConfig controls how reloads are triggered.
type ReloadConfig struct {
	Signal    string `yaml:"signal" json:"signal"`         // "SIGHUP", "SIGUSR1" or "SIGUSR2"; default: "SIGHUP"
	WatchFile bool   `yaml:"watch_file" json:"watch_file"` // also reload when the config file changes
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`               // "debug", "info", "warn", "error"; default: "info"
	Output     string `yaml:"output" json:"output"`             // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`   // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`   // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"` // max days to retain rotated files; default: 30
	Syslog     bool   `yaml:"syslog" json:"syslog"`             // duplicate log lines to the system logger
	SyslogTag  string `yaml:"syslog_tag" json:"syslog_tag"`     // default: "hellomux"
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// AdminConfig holds the admin HTTP API settings. The admin API also serves
// health, metrics, and the virtual files.
type AdminConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`                     // default: false
	Addr            string        `yaml:"addr" json:"addr"`                           // default: "127.0.0.1:9090"
	IPAllowlist     []string      `yaml:"ip_allowlist" json:"ip_allowlist"`           // CIDR notation
	ReloadPerMinute int           `yaml:"reload_per_minute" json:"reload_per_minute"` // manual reload budget; default: 6
	JournalSize     int           `yaml:"journal_size" json:"journal_size"`           // retained events; default: 256
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	Auth            AuthConfig    `yaml:"auth" json:"auth"`
	TLS             TLSConfig     `yaml:"tls" json:"tls"`
}

// TLSConfig holds TLS settings for the admin listener. Certificates are
// re-read on every reload and whenever the files change.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	MinVersion string `yaml:"min_version" json:"min_version"` // "1.2" or "1.3"; default: "1.2"
}

// AuthConfig holds JWT bearer authentication settings for the admin API.
type AuthConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	JWTSecret string   `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer    string   `yaml:"issuer" json:"issuer"`
	Audience  string   `yaml:"audience" json:"audience"`
	Scopes    []string `yaml:"scopes" json:"scopes"`
}

// FilesConfig holds the virtual file settings.
type FilesConfig struct {
	StaticName    string `yaml:"static_name" json:"static_name"`       // default: "tsu"
	StaticContent string `yaml:"static_content" json:"static_content"` // default: "Tomsk\n"
	PrimesName    string `yaml:"primes_name" json:"primes_name"`       // default: "primes"
	PrimesLimit   int    `yaml:"primes_limit" json:"primes_limit"`     // default: 100
}

// MaxPrimesLimit bounds the sieve so a bad config cannot exhaust memory.
const MaxPrimesLimit = 10_000_000

// ValidLogLevels are the accepted log level strings.
var ValidLogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogLevel returns the configured level, defaulting to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	if lvl, ok := ValidLogLevels[l.Level]; ok {
		return lvl
	}
	return slog.LevelInfo
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	return parse(data)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, _ := parse(nil)
	return cfg
}

func parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Backlog == 0 {
		cfg.Server.Backlog = 10
	}
	if cfg.Server.ReadBufferSize == 0 {
		cfg.Server.ReadBufferSize = 1024
	}

	if cfg.Reload.Signal == "" {
		cfg.Reload.Signal = "SIGHUP"
	}
	cfg.Reload.Signal = strings.ToUpper(cfg.Reload.Signal)

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}
	if cfg.Logging.SyslogTag == "" {
		cfg.Logging.SyslogTag = "hellomux"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Admin defaults
	a := &cfg.Admin
	if a.Addr == "" {
		a.Addr = "127.0.0.1:9090"
	}
	if a.ReloadPerMinute == 0 {
		a.ReloadPerMinute = 6
	}
	if a.JournalSize == 0 {
		a.JournalSize = 256
	}
	if a.ReadTimeout == 0 {
		a.ReadTimeout = 5 * time.Second
	}
	if a.WriteTimeout == 0 {
		a.WriteTimeout = 10 * time.Second
	}
	if a.ShutdownTimeout == 0 {
		a.ShutdownTimeout = 5 * time.Second
	}
	if a.TLS.Enabled && a.TLS.MinVersion == "" {
		a.TLS.MinVersion = "1.2"
	}

	// Virtual file defaults
	f := &cfg.Files
	if f.StaticName == "" {
		f.StaticName = "tsu"
	}
	if f.StaticContent == "" {
		f.StaticContent = "Tomsk\n"
	}
	if f.PrimesName == "" {
		f.PrimesName = "primes"
	}
	if f.PrimesLimit == 0 {
		f.PrimesLimit = 100
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.Backlog < 1 {
		return fmt.Errorf("server.backlog must be positive")
	}
	if cfg.Server.ReadBufferSize < 1 || cfg.Server.ReadBufferSize > 1<<20 {
		return fmt.Errorf("server.read_buffer_size must be between 1 and 1048576, got %d", cfg.Server.ReadBufferSize)
	}

	if _, err := ParseSignal(cfg.Reload.Signal); err != nil {
		return fmt.Errorf("reload.signal: %w", err)
	}

	if _, ok := ValidLogLevels[cfg.Logging.Level]; !ok {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	// Admin validation
	a := cfg.Admin
	if a.ReloadPerMinute < 0 {
		return fmt.Errorf("admin.reload_per_minute must be non-negative")
	}
	if a.JournalSize < 1 {
		return fmt.Errorf("admin.journal_size must be positive")
	}
	if a.Enabled {
		if _, _, err := net.SplitHostPort(a.Addr); err != nil {
			return fmt.Errorf("admin.addr: %w", err)
		}
		if len(a.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range a.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}
	if a.TLS.Enabled {
		if a.TLS.CertFile == "" {
			return fmt.Errorf("admin.tls.cert_file is required when TLS is enabled")
		}
		if a.TLS.KeyFile == "" {
			return fmt.Errorf("admin.tls.key_file is required when TLS is enabled")
		}
		if a.TLS.MinVersion != "1.2" && a.TLS.MinVersion != "1.3" {
			return fmt.Errorf("admin.tls.min_version must be \"1.2\" or \"1.3\", got %q", a.TLS.MinVersion)
		}
	}
	if a.Auth.Enabled {
		if a.Auth.JWTSecret == "" {
			return fmt.Errorf("admin.auth.jwt_secret is required when auth is enabled")
		}
		if a.Auth.Issuer == "" {
			return fmt.Errorf("admin.auth.issuer is required when auth is enabled")
		}
		if a.Auth.Audience == "" {
			return fmt.Errorf("admin.auth.audience is required when auth is enabled")
		}
	}

	if cfg.Files.PrimesLimit < 0 || cfg.Files.PrimesLimit > MaxPrimesLimit {
		return fmt.Errorf("files.primes_limit must be between 0 and %d, got %d", MaxPrimesLimit, cfg.Files.PrimesLimit)
	}
	if cfg.Files.StaticName == cfg.Files.PrimesName {
		return fmt.Errorf("files.static_name and files.primes_name must differ")
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Admin.Auth.Enabled && strings.Contains(cfg.Admin.Auth.JWTSecret, "${") {
		warnings = append(warnings, "admin.auth.jwt_secret contains unresolved environment variable")
	}
	if cfg.Admin.Enabled && !cfg.Admin.Auth.Enabled {
		if host, _, err := net.SplitHostPort(cfg.Admin.Addr); err == nil {
			if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
				warnings = append(warnings, "admin API listens on all interfaces without authentication")
			}
		}
	}
	return warnings
}
