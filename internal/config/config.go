// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"esigate-go/internal/cookie"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/esigate/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the proxy itself and never mapped to a provider.
var reservedRoutes = []string{"/healthz", "/proxy/status"}

// defaultCacheableStatusCodes are the statuses stored without a forced TTL.
var defaultCacheableStatusCodes = []int{200, 203, 300, 301, 410}

// DefaultParsableContentTypes are rendered when a provider does not list its own.
var DefaultParsableContentTypes = []string{"text/html", "application/xhtml+xml"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig     `toml:"server"`
	Upstream  UpstreamConfig   `toml:"upstream"`
	Log       LogConfig        `toml:"log"`
	Metrics   MetricsConfig    `toml:"metrics"`
	Cache     CacheConfig      `toml:"cache"`
	ESI       ESIConfig        `toml:"esi"`
	Session   SessionConfig    `toml:"session"`
	Providers []ProviderConfig `toml:"providers"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds backend connection settings shared by all providers.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// LogConfig holds logging settings. An empty File logs to stdout.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// CacheConfig controls the backend response cache.
type CacheConfig struct {
	Enabled    bool   `toml:"enabled"`
	Storage    string `toml:"storage"` // memory | sqlite
	SQLitePath string `toml:"sqlite_path"`
	// TTLSeconds > 0 forces every response fresh for that long, whatever
	// the backend says.
	TTLSeconds                  int   `toml:"ttl_seconds"`
	StaleWhileRevalidateSeconds int   `toml:"stale_while_revalidate_seconds"`
	StaleIfErrorSeconds         int   `toml:"stale_if_error_seconds"`
	HeuristicCaching            bool  `toml:"heuristic_caching"`
	XCacheHeader                bool  `toml:"x_cache_header"`
	CacheableStatusCodes        []int `toml:"cacheable_status_codes"`
}

// ESIConfig controls include processing.
type ESIConfig struct {
	// Parallel resolves independent includes concurrently.
	Parallel   bool `toml:"parallel"`
	MaxWorkers int  `toml:"max_workers"`
}

// SessionConfig controls the proxy session used to keep backend cookies.
type SessionConfig struct {
	CookieName string `toml:"cookie_name"`
	TTLMinutes int    `toml:"ttl_minutes"`
}

// ProviderConfig describes one backend application.
type ProviderConfig struct {
	Name string `toml:"name"`
	// RemoteURLBase lists equivalent backend nodes, used round-robin.
	RemoteURLBase  []string `toml:"remote_url_base"`
	VisibleURLBase string   `toml:"visible_url_base"`
	// URIMapping lists client path prefixes routed to this provider.
	URIMapping           []string `toml:"uri_mapping"`
	StripMappingPath     bool     `toml:"strip_mapping_path"`
	PreserveHost         bool     `toml:"preserve_host"`
	FixResources         bool     `toml:"fix_resources"`
	FixMode              string   `toml:"fix_mode"` // absolute | relative
	ParsableContentTypes []string `toml:"parsable_content_types"`
	Renderers            []string `toml:"renderers"` // esi | aggregate

	DiscardCookies         []string `toml:"discard_cookies"`
	StoreCookiesInSession  []string `toml:"store_cookies_in_session"`
	ForwardRequestHeaders  []string `toml:"forward_request_headers"`
	DiscardRequestHeaders  []string `toml:"discard_request_headers"`
	ForwardResponseHeaders []string `toml:"forward_response_headers"`
	DiscardResponseHeaders []string `toml:"discard_response_headers"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/esigate/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	if err := c.validateLog(); err != nil {
		return err
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	if err := c.validateCache(); err != nil {
		return err
	}
	if c.ESI.MaxWorkers < 0 {
		return fmt.Errorf("esi.max_workers must be non-negative; got %d", c.ESI.MaxWorkers)
	}
	if c.Session.TTLMinutes < 0 {
		return fmt.Errorf("session.ttl_minutes must be non-negative; got %d", c.Session.TTLMinutes)
	}

	return c.validateProviders()
}

func (c *Config) validateLog() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation settings must be non-negative")
	}
	return nil
}

func (c *Config) validateCache() error {
	switch strings.ToLower(c.Cache.Storage) {
	case "memory", "sqlite", "":
		// valid
	default:
		return fmt.Errorf("cache.storage must be one of: memory, sqlite; got %q", c.Cache.Storage)
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds must be non-negative; got %d", c.Cache.TTLSeconds)
	}
	if c.Cache.StaleWhileRevalidateSeconds < 0 {
		return fmt.Errorf("cache.stale_while_revalidate_seconds must be non-negative; got %d", c.Cache.StaleWhileRevalidateSeconds)
	}
	if c.Cache.StaleIfErrorSeconds < 0 {
		return fmt.Errorf("cache.stale_if_error_seconds must be non-negative; got %d", c.Cache.StaleIfErrorSeconds)
	}
	for _, code := range c.Cache.CacheableStatusCodes {
		if code < 100 || code > 599 {
			return fmt.Errorf("cache.cacheable_status_codes: invalid status %d", code)
		}
	}
	return nil
}

func (c *Config) validateProviders() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one [[providers]] entry is required")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d].name %q is duplicated", i, p.Name)
		}
		seen[p.Name] = true

		if len(p.RemoteURLBase) == 0 {
			return fmt.Errorf("provider %q: remote_url_base is required", p.Name)
		}
		for _, raw := range p.RemoteURLBase {
			if err := checkAbsoluteURL(raw); err != nil {
				return fmt.Errorf("provider %q: remote_url_base: %w", p.Name, err)
			}
		}
		if p.VisibleURLBase != "" {
			if err := checkAbsoluteURL(p.VisibleURLBase); err != nil {
				return fmt.Errorf("provider %q: visible_url_base: %w", p.Name, err)
			}
		}
		for _, m := range p.URIMapping {
			if !strings.HasPrefix(m, "/") {
				return fmt.Errorf("provider %q: uri_mapping %q must start with '/'", p.Name, m)
			}
		}
		switch strings.ToLower(p.FixMode) {
		case "absolute", "relative", "":
			// valid
		default:
			return fmt.Errorf("provider %q: fix_mode must be one of: absolute, relative; got %q", p.Name, p.FixMode)
		}
		for _, r := range p.Renderers {
			switch strings.ToLower(r) {
			case "esi", "aggregate":
				// valid
			default:
				return fmt.Errorf("provider %q: unknown renderer %q", p.Name, r)
			}
		}
		cc := cookie.Config{Discard: p.DiscardCookies, StoreInSession: p.StoreCookiesInSession}
		if err := cc.Validate(); err != nil {
			return fmt.Errorf("provider %q: %w", p.Name, err)
		}
	}
	return nil
}

func checkAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%q is not a valid URL: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 60
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 28
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Cache.Storage == "" {
		c.Cache.Storage = "memory"
	}
	c.Cache.Storage = strings.ToLower(c.Cache.Storage)
	if c.Cache.SQLitePath == "" {
		c.Cache.SQLitePath = "esigate-cache.db"
	}
	if len(c.Cache.CacheableStatusCodes) == 0 {
		c.Cache.CacheableStatusCodes = append([]int(nil), defaultCacheableStatusCodes...)
	}
	if c.ESI.MaxWorkers == 0 {
		c.ESI.MaxWorkers = 16
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "ESIGATE_SESSION"
	}
	if c.Session.TTLMinutes == 0 {
		c.Session.TTLMinutes = 30
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if len(p.URIMapping) == 0 {
			p.URIMapping = []string{"/"}
		}
		if p.FixMode == "" {
			p.FixMode = "relative"
		}
		p.FixMode = strings.ToLower(p.FixMode)
		if len(p.ParsableContentTypes) == 0 {
			p.ParsableContentTypes = append([]string(nil), DefaultParsableContentTypes...)
		}
		if len(p.Renderers) == 0 {
			p.Renderers = []string{"esi"}
		}
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
