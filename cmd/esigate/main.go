package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"gopkg.in/natefinch/lumberjack.v2"

	"esigate-go/internal/aggregator"
	"esigate-go/internal/client"
	"esigate-go/internal/config"
	"esigate-go/internal/cookie"
	"esigate-go/internal/driver"
	"esigate-go/internal/esi"
	"esigate-go/internal/handler"
	"esigate-go/internal/httpcache"
	"esigate-go/internal/metrics"
	"esigate-go/internal/middleware"
	"esigate-go/internal/parser"
	"esigate-go/internal/urlrewrite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("esigate"),
		kong.Description("Reverse proxy assembling pages from ESI and aggregator fragments."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newCache,
			newSessionStore,
			esi.NewInlineStore,
			newExecutor,
			newESIRenderer,
			client.NewHTTPClient,
			urlrewrite.New,
			newRegistry,
			newEcho,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var out io.Writer = os.Stdout
	if cfg.Log.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(out, opts)
	default:
		h = slog.NewJSONHandler(out, opts)
	}

	return slog.New(h)
}

// newCache returns nil when caching is disabled.
func newCache(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*httpcache.Cache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}

	var storage httpcache.Storage
	switch cfg.Cache.Storage {
	case "sqlite":
		s, err := httpcache.NewSQLiteStorage(cfg.Cache.SQLitePath)
		if err != nil {
			return nil, err
		}
		purgeExpired(lc, s, logger)
		storage = s
	default:
		storage = httpcache.NewMemoryStorage()
	}

	cache := httpcache.New(cfg, storage, logger, m)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return cache.Close() },
	})
	logger.Info("backend cache enabled", "storage", cfg.Cache.Storage, "ttl_seconds", cfg.Cache.TTLSeconds)
	return cache, nil
}

func purgeExpired(lc fx.Lifecycle, s *httpcache.SQLiteStorage, logger *slog.Logger) {
	every(lc, 10*time.Minute, func(ctx context.Context) {
		n, err := s.PurgeExpired(ctx)
		if err != nil {
			logger.Error("purging expired cache entries", "err", err)
			return
		}
		if n > 0 {
			logger.Debug("purged expired cache entries", "count", n)
		}
	})
}

func newSessionStore(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) *cookie.SessionStore {
	store := cookie.NewSessionStore(time.Duration(cfg.Session.TTLMinutes) * time.Minute)
	every(lc, time.Minute, func(context.Context) {
		if n := store.Sweep(); n > 0 {
			logger.Debug("expired sessions removed", "count", n)
		}
	})
	return store
}

// every runs fn periodically between application start and stop.
func every(lc fx.Lifecycle, interval time.Duration, fn func(context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				t := time.NewTicker(interval)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-t.C:
						fn(ctx)
					}
				}
			}()
			return nil
		},
		OnStop: func(stop context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stop.Done():
			}
			return nil
		},
	})
}

func newExecutor(cfg *config.Config) parser.Executor {
	if cfg.ESI.Parallel {
		return parser.NewParallel(cfg.ESI.MaxWorkers)
	}
	return parser.Sync{}
}

func newESIRenderer(exec parser.Executor, store *esi.InlineStore, logger *slog.Logger, m *metrics.Metrics) *esi.Renderer {
	return esi.New(esi.Options{Executor: exec, Store: store, Logger: logger, Metrics: m})
}

func newRegistry(cfg *config.Config, httpClient *http.Client, cache *httpcache.Cache, rewriter *urlrewrite.Rewriter,
	renderer *esi.Renderer, logger *slog.Logger, m *metrics.Metrics,
) (*driver.Registry, error) {
	reg := driver.NewRegistry()
	opts := driver.Options{
		HTTPClient: httpClient,
		Cache:      cache,
		Rewriter:   rewriter,
		Logger:     logger,
		Metrics:    m,
	}
	for _, pc := range cfg.Providers {
		d, err := driver.New(pc, opts)
		if err != nil {
			return nil, err
		}
		for _, name := range pc.Renderers {
			var ext driver.Extension
			switch strings.ToLower(name) {
			case "esi":
				ext = esi.Extension{Renderer: renderer}
			case "aggregate":
				ext = aggregator.Extension{}
			default:
				return nil, fmt.Errorf("provider %s: unknown renderer %q", pc.Name, name)
			}
			if err := d.Use(ext); err != nil {
				return nil, err
			}
		}
		if err := reg.Add(d); err != nil {
			return nil, err
		}
		logger.Info("provider registered",
			"provider", pc.Name,
			"uri_mapping", pc.URIMapping,
			"remote_url_base", pc.RemoteURLBase,
			"renderers", pc.Renderers,
		)
	}
	return reg, nil
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// Pages wait on their slowest include, so writes are bounded by the
	// upstream timeout rather than a server deadline.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.StripHopByHop())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "version", version)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
