package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// minimalProvider is the smallest provider section Load accepts.
const minimalProvider = `
[[providers]]
name = "default"
remote_url_base = ["http://backend.internal:8080/"]
`

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a temp config.toml and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[upstream]
timeout_seconds = 30
idle_connections = 50

[log]
level = "debug"
format = "text"
file = "/var/log/esigate.log"
max_size_mb = 10

[cache]
enabled = true
storage = "SQLite"
sqlite_path = "/tmp/cache.db"
ttl_seconds = 60
stale_while_revalidate_seconds = 5
x_cache_header = true

[esi]
parallel = true
max_workers = 4

[[providers]]
name = "shop"
remote_url_base = ["http://node1:8080/shop/", "http://node2:8080/shop/"]
visible_url_base = "http://www.example.com/shop/"
uri_mapping = ["/shop"]
fix_resources = true
fix_mode = "ABSOLUTE"
renderers = ["esi", "aggregate"]
store_cookies_in_session = ["auth"]
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Upstream.TimeoutSeconds != 30 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 30)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want debug/text", cfg.Log)
	}
	if cfg.Log.MaxSizeMB != 10 || cfg.Log.MaxBackups != 3 {
		t.Errorf("Log rotation = %d/%d, want 10/3", cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
	}
	if cfg.Cache.Storage != "sqlite" || cfg.Cache.TTLSeconds != 60 || !cfg.Cache.XCacheHeader {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if !cfg.ESI.Parallel || cfg.ESI.MaxWorkers != 4 {
		t.Errorf("ESI = %+v, want parallel with 4 workers", cfg.ESI)
	}

	if len(cfg.Providers) != 1 {
		t.Fatalf("Providers = %d, want 1", len(cfg.Providers))
	}
	p := cfg.Providers[0]
	if len(p.RemoteURLBase) != 2 {
		t.Errorf("RemoteURLBase = %v, want 2 nodes", p.RemoteURLBase)
	}
	if p.FixMode != "absolute" {
		t.Errorf("FixMode = %q, want %q", p.FixMode, "absolute")
	}
	if len(p.ParsableContentTypes) != len(DefaultParsableContentTypes) {
		t.Errorf("ParsableContentTypes = %v, want defaults", p.ParsableContentTypes)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, minimalProvider)))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Cache.Enabled {
		t.Error("cache enabled by default")
	}
	if cfg.Cache.Storage != "memory" {
		t.Errorf("default Cache.Storage = %q, want %q", cfg.Cache.Storage, "memory")
	}
	if len(cfg.Cache.CacheableStatusCodes) != 5 {
		t.Errorf("default CacheableStatusCodes = %v", cfg.Cache.CacheableStatusCodes)
	}
	if cfg.Session.CookieName != "ESIGATE_SESSION" || cfg.Session.TTLMinutes != 30 {
		t.Errorf("default Session = %+v", cfg.Session)
	}

	p := cfg.Providers[0]
	if len(p.URIMapping) != 1 || p.URIMapping[0] != "/" {
		t.Errorf("default URIMapping = %v, want [/]", p.URIMapping)
	}
	if p.FixMode != "relative" {
		t.Errorf("default FixMode = %q, want %q", p.FixMode, "relative")
	}
	if len(p.Renderers) != 1 || p.Renderers[0] != "esi" {
		t.Errorf("default Renderers = %v, want [esi]", p.Renderers)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[log]
level = "info"
`+minimalProvider)

	cli := &CLI{
		Config:   path,
		Host:     "127.0.0.1",
		Port:     3000,
		LogLevel: "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{"negative port", "[server]\nport = -1\n" + minimalProvider, "server.port"},
		{"negative body max", "[server]\nbody_max_bytes = -1\n" + minimalProvider, "body_max_bytes"},
		{"negative timeout", "[upstream]\ntimeout_seconds = -5\n" + minimalProvider, "timeout_seconds"},
		{"bad log level", "[log]\nlevel = \"verbose\"\n" + minimalProvider, "log.level"},
		{"bad log format", "[log]\nformat = \"xml\"\n" + minimalProvider, "log.format"},
		{"bad cache storage", "[cache]\nstorage = \"redis\"\n" + minimalProvider, "cache.storage"},
		{"negative ttl", "[cache]\nttl_seconds = -1\n" + minimalProvider, "ttl_seconds"},
		{"bad status code", "[cache]\ncacheable_status_codes = [200, 999]\n" + minimalProvider, "cacheable_status_codes"},
		{"no providers", "[server]\nport = 8080\n", "providers"},
		{"provider without name", "[[providers]]\nremote_url_base = [\"http://a/\"]\n", "name is required"},
		{"duplicate provider", minimalProvider + minimalProvider, "duplicated"},
		{"provider without base", "[[providers]]\nname = \"a\"\n", "remote_url_base is required"},
		{"relative base", "[[providers]]\nname = \"a\"\nremote_url_base = [\"/backend\"]\n", "http or https"},
		{"bad visible base", minimalProvider + "visible_url_base = \"ftp://x/\"\n", "visible_url_base"},
		{"bad mapping", minimalProvider + "uri_mapping = [\"shop\"]\n", "uri_mapping"},
		{"bad fix mode", minimalProvider + "fix_mode = \"magic\"\n", "fix_mode"},
		{"unknown renderer", minimalProvider + "renderers = [\"xslt\"]\n", "unknown renderer"},
		{"cookie wildcard clash", minimalProvider + "discard_cookies = [\"*\"]\nstore_cookies_in_session = [\"*\"]\n", "at the same time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`+minimalProvider)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_RateLimitConfig_BadValue(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 0
`+minimalProvider)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for rate limit enabled with requests_per_second=0, got nil")
	}
	if !strings.Contains(err.Error(), "requests_per_second") {
		t.Errorf("error = %q, want mention of requests_per_second", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, minimalProvider)

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, minimalProvider)
	path2 := writeConfig(t, minimalProvider)

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, "[metrics]\nenabled = true\n"+minimalProvider)))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, "[metrics]\nenabled = true\npath = \"metrics\"\n"+minimalProvider)))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithReservedRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"healthz", "/healthz"},
		{"healthz sub", "/healthz/metrics"},
		{"proxy/status", "/proxy/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := "[metrics]\nenabled = true\npath = \"" + tt.path + "\"\n" + minimalProvider
			_, err := Load(cliWithPath(writeConfig(t, data)))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, "[metrics]\nenabled = false\npath = \"bad-no-slash\"\n"+minimalProvider)))
	if err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
