package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromBytes_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(``))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.Backlog != 10 {
		t.Errorf("expected default backlog 10, got %d", cfg.Server.Backlog)
	}
	if cfg.Server.ReadBufferSize != 1024 {
		t.Errorf("expected default read_buffer_size 1024, got %d", cfg.Server.ReadBufferSize)
	}
	if cfg.Reload.Signal != "SIGHUP" {
		t.Errorf("expected default reload signal SIGHUP, got %q", cfg.Reload.Signal)
	}
	if cfg.Logging.Output != "stdout" || cfg.Logging.Level != "info" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Logging.SyslogTag != "hellomux" {
		t.Errorf("expected default syslog tag hellomux, got %q", cfg.Logging.SyslogTag)
	}
	if !cfg.Metrics.IsEnabled() || cfg.Metrics.Path != "/metrics" {
		t.Errorf("unexpected metrics defaults: enabled=%v path=%q", cfg.Metrics.IsEnabled(), cfg.Metrics.Path)
	}
	if cfg.Admin.Enabled {
		t.Error("admin should be disabled by default")
	}
	if cfg.Admin.Addr != "127.0.0.1:9090" {
		t.Errorf("expected default admin addr, got %q", cfg.Admin.Addr)
	}
	if cfg.Files.StaticContent != "Tomsk\n" || cfg.Files.PrimesLimit != 100 {
		t.Errorf("unexpected files defaults: %+v", cfg.Files)
	}
}

func TestDefault_MatchesEmptyFile(t *testing.T) {
	cfg := Default()
	if cfg == nil {
		t.Fatal("Default() returned nil")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
}

func TestLoadFromBytes_FullConfig(t *testing.T) {
	yaml := []byte(`
server:
  port: 9000
  backlog: 64
  read_buffer_size: 4096
reload:
  signal: sigusr1
  watch_file: true
logging:
  level: DEBUG
  output: stderr
  syslog: true
  syslog_tag: mux-test
metrics:
  enabled: false
admin:
  enabled: true
  addr: "127.0.0.1:9191"
  ip_allowlist: ["127.0.0.0/8", "10.0.0.0/8"]
  reload_per_minute: 12
  read_timeout: 2s
  auth:
    enabled: true
    jwt_secret: "test-secret"
    issuer: "test-issuer"
    audience: "test-audience"
    scopes: ["admin"]
files:
  static_content: "hello\n"
  primes_limit: 50
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 || cfg.Server.Backlog != 64 || cfg.Server.ReadBufferSize != 4096 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Reload.Signal != "SIGUSR1" {
		t.Errorf("expected normalized signal SIGUSR1, got %q", cfg.Reload.Signal)
	}
	if !cfg.Reload.WatchFile {
		t.Error("expected watch_file true")
	}
	if cfg.Logging.SlogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.Logging.SlogLevel())
	}
	if !cfg.Logging.Syslog || cfg.Logging.SyslogTag != "mux-test" {
		t.Errorf("unexpected syslog config: %+v", cfg.Logging)
	}
	if cfg.Metrics.IsEnabled() {
		t.Error("expected metrics disabled")
	}
	if cfg.Admin.ReloadPerMinute != 12 {
		t.Errorf("expected reload_per_minute 12, got %d", cfg.Admin.ReloadPerMinute)
	}
	if cfg.Admin.ReadTimeout != 2*time.Second {
		t.Errorf("expected read_timeout 2s, got %v", cfg.Admin.ReadTimeout)
	}
	if cfg.Admin.Auth.JWTSecret != "test-secret" {
		t.Errorf("expected jwt_secret 'test-secret', got %q", cfg.Admin.Auth.JWTSecret)
	}
	if cfg.Files.StaticContent != "hello\n" || cfg.Files.PrimesLimit != 50 {
		t.Errorf("unexpected files config: %+v", cfg.Files)
	}
	if len(cfg.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", cfg.Warnings)
	}
}

func TestLoadFromBytes_EnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_ADMIN_SECRET", "env-secret-value")

	yaml := []byte(`
admin:
  auth:
    enabled: true
    jwt_secret: "${TEST_ADMIN_SECRET}"
    issuer: "iss"
    audience: "aud"
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Admin.Auth.JWTSecret != "env-secret-value" {
		t.Errorf("expected env var expansion, got %q", cfg.Admin.Auth.JWTSecret)
	}
}

func TestLoadFromBytes_UnresolvedEnvVarWarning(t *testing.T) {
	os.Unsetenv("NONEXISTENT_SECRET")

	yaml := []byte(`
admin:
  auth:
    enabled: true
    jwt_secret: "${NONEXISTENT_SECRET}"
    issuer: "iss"
    audience: "aud"
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, w := range cfg.Warnings {
		if strings.Contains(w, "unresolved environment variable") {
			found = true
		}
	}
	if !found {
		t.Error("expected warning about unresolved environment variable")
	}
}

func TestLoadFromBytes_WildcardAdminWithoutAuthWarning(t *testing.T) {
	yaml := []byte(`
admin:
  enabled: true
  addr: ":9090"
  ip_allowlist: ["0.0.0.0/0"]
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Warnings) != 1 || !strings.Contains(cfg.Warnings[0], "without authentication") {
		t.Errorf("expected wildcard admin warning, got %v", cfg.Warnings)
	}
}

func TestLoadFromBytes_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "invalid port",
			yaml: "server:\n  port: 99999\n",
			want: "server.port",
		},
		{
			name: "negative port",
			yaml: "server:\n  port: -1\n",
			want: "server.port",
		},
		{
			name: "negative backlog",
			yaml: "server:\n  backlog: -3\n",
			want: "server.backlog",
		},
		{
			name: "oversized read buffer",
			yaml: "server:\n  read_buffer_size: 2000000\n",
			want: "server.read_buffer_size",
		},
		{
			name: "unknown reload signal",
			yaml: "reload:\n  signal: SIGKILL\n",
			want: "reload.signal",
		},
		{
			name: "unknown log level",
			yaml: "logging:\n  level: verbose\n",
			want: "logging.level",
		},
		{
			name: "metrics path without slash",
			yaml: "metrics:\n  path: metrics\n",
			want: "metrics.path",
		},
		{
			name: "admin without allowlist",
			yaml: "admin:\n  enabled: true\n",
			want: "admin.ip_allowlist",
		},
		{
			name: "admin bad cidr",
			yaml: "admin:\n  enabled: true\n  ip_allowlist: [\"not-a-cidr\"]\n",
			want: "invalid CIDR",
		},
		{
			name: "admin bad addr",
			yaml: "admin:\n  enabled: true\n  addr: \"nope\"\n  ip_allowlist: [\"127.0.0.0/8\"]\n",
			want: "admin.addr",
		},
		{
			name: "auth without secret",
			yaml: "admin:\n  auth:\n    enabled: true\n    issuer: iss\n    audience: aud\n",
			want: "jwt_secret",
		},
		{
			name: "auth without issuer",
			yaml: "admin:\n  auth:\n    enabled: true\n    jwt_secret: s\n    audience: aud\n",
			want: "issuer",
		},
		{
			name: "auth without audience",
			yaml: "admin:\n  auth:\n    enabled: true\n    jwt_secret: s\n    issuer: iss\n",
			want: "audience",
		},
		{
			name: "tls without cert",
			yaml: "admin:\n  tls:\n    enabled: true\n    key_file: k.pem\n",
			want: "admin.tls.cert_file",
		},
		{
			name: "tls bad min version",
			yaml: "admin:\n  tls:\n    enabled: true\n    cert_file: c.pem\n    key_file: k.pem\n    min_version: \"1.0\"\n",
			want: "min_version",
		},
		{
			name: "negative reload rate",
			yaml: "admin:\n  reload_per_minute: -1\n",
			want: "reload_per_minute",
		},
		{
			name: "primes limit too large",
			yaml: "files:\n  primes_limit: 100000000\n",
			want: "primes_limit",
		},
		{
			name: "clashing file names",
			yaml: "files:\n  static_name: same\n  primes_name: same\n",
			want: "must differ",
		},
		{
			name: "malformed yaml",
			yaml: "server: [",
			want: "parsing config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hellomux.yaml")
	content := `
server:
  port: 8181
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("expected port 8181, got %d", cfg.Server.Port)
	}
}

func TestLoad_ErrorMentionsPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 0x\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error %q does not mention path", err)
	}
}

func TestLoggingConfig_SlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := (LoggingConfig{Level: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
