// Package httpcache caches backend responses following HTTP caching rules,
// with optional forced TTL, stale-while-revalidate and stale-if-error.
package httpcache

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"esigate-go/internal/config"
	"esigate-go/internal/metrics"
	"esigate-go/internal/model"
)

// Cache results reported in X-Cache.
const (
	Miss      = "MISS"
	Hit       = "HIT"
	Validated = "VALIDATED"
)

// XCacheHeader reports how a response was obtained.
const XCacheHeader = "X-Cache"

// staleRetention keeps expired entries around so they can be revalidated.
const staleRetention = time.Hour

// FetchFunc sends a request to the backend.
type FetchFunc func(*http.Request) (*model.Response, error)

// Cache sits between the driver and the backend client.
type Cache struct {
	storage   Storage
	ttl       time.Duration
	swr       time.Duration
	sie       time.Duration
	heuristic bool
	xCache    bool
	cacheable map[int]bool

	group   singleflight.Group
	pending sync.Map
	wg      sync.WaitGroup

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Cache over storage. The metrics parameter is optional.
func New(cfg *config.Config, storage Storage, logger *slog.Logger, m *metrics.Metrics) *Cache {
	cacheable := make(map[int]bool, len(cfg.Cache.CacheableStatusCodes))
	for _, code := range cfg.Cache.CacheableStatusCodes {
		cacheable[code] = true
	}
	return &Cache{
		storage:   storage,
		ttl:       time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		swr:       time.Duration(cfg.Cache.StaleWhileRevalidateSeconds) * time.Second,
		sie:       time.Duration(cfg.Cache.StaleIfErrorSeconds) * time.Second,
		heuristic: cfg.Cache.HeuristicCaching,
		xCache:    cfg.Cache.XCacheHeader,
		cacheable: cacheable,
		logger:    logger.With("component", "http_cache"),
		metrics:   m,
		now:       time.Now,
	}
}

// Key returns the storage key of a GET for requestURI on virtualHost.
func Key(virtualHost, requestURI string) string {
	return http.MethodGet + ":" + virtualHost + requestURI
}

// Do serves req from the cache or through fetch. virtualHost identifies
// the site independently of the backend node req targets.
func (c *Cache) Do(req *http.Request, virtualHost string, fetch FetchFunc) (*model.Response, error) {
	ctx := req.Context()
	node := req.URL.Hostname()
	key := Key(virtualHost, req.URL.RequestURI())

	if req.Method != http.MethodGet {
		resp, err := fetch(req)
		if err == nil && !isSafe(req.Method) && resp.StatusCode < 400 {
			if perr := c.storage.Purge(ctx, key); perr != nil {
				c.logger.Warn("cache invalidation failed", "key", key, "err", perr)
			}
		}
		c.record("bypass")
		return resp, err
	}

	clientHeader := req.Header
	out := req.Clone(ctx)
	out.Header.Del("If-None-Match")
	out.Header.Del("If-Modified-Since")

	entry := c.lookup(ctx, key, out.Header)
	if entry == nil {
		resp, err := c.fetchAndStore(out, key, fetch)
		if err != nil {
			return nil, err
		}
		c.record("miss")
		return c.answer(clientHeader, resp, Miss, node), nil
	}

	age := currentAge(entry, c.now())
	lifetime := freshnessLifetime(entry.Response.Header, entry.ResponseTime, c.heuristic)
	if age < lifetime {
		c.record("hit")
		return c.answer(clientHeader, entry.Response, Hit, node), nil
	}

	staleFor := age - lifetime
	cc := parseCacheControl(entry.Response.Header.Values("Cache-Control"))
	if !cc.mustRevalidate() && staleFor <= c.window(cc, "stale-while-revalidate", c.swr) {
		c.revalidateAsync(out, key, entry, fetch)
		c.record("stale")
		return c.answer(clientHeader, entry.Response, Hit, node), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.revalidate(out, key, entry, fetch)
	})
	var resp *model.Response
	if err == nil {
		resp = v.(*model.Response)
	}
	if (err != nil || resp.StatusCode >= 500) && !cc.mustRevalidate() &&
		staleFor <= c.window(cc, "stale-if-error", c.sie) {
		c.logger.Warn("serving stale response after backend failure", "key", key, "err", err)
		c.record("stale")
		return c.answer(clientHeader, entry.Response, Hit, node), nil
	}
	if err != nil {
		return nil, err
	}
	c.record("validated")
	return c.answer(clientHeader, resp, Validated, node), nil
}

// Wait blocks until background revalidations have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Close waits for background work and closes the storage.
func (c *Cache) Close() error {
	c.Wait()
	return c.storage.Close()
}

func (c *Cache) window(cc cacheControl, directive string, fallback time.Duration) time.Duration {
	if d, ok := cc.seconds(directive); ok {
		return d
	}
	return fallback
}

func (c *Cache) lookup(ctx context.Context, key string, reqHeader http.Header) *Entry {
	b, ok, err := c.storage.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache storage read failed", "key", key, "err", err)
		c.record("fault")
		return nil
	}
	if !ok {
		return nil
	}
	entry, err := decodeEntry(b)
	if err != nil {
		c.logger.Warn("dropping unreadable cache entry", "key", key, "err", err)
		c.record("fault")
		_ = c.storage.Purge(ctx, key)
		return nil
	}
	if !entry.matchesVary(reqHeader) {
		return nil
	}
	return entry
}

func (c *Cache) fetchAndStore(req *http.Request, key string, fetch FetchFunc) (*model.Response, error) {
	requestTime := c.now()
	resp, err := fetch(req)
	if err != nil {
		return nil, err
	}
	c.store(req, key, resp, requestTime, c.now(), nil)
	return resp, nil
}

// revalidate sends a conditional request for a stale entry and returns the
// response to serve.
func (c *Cache) revalidate(req *http.Request, key string, entry *Entry, fetch FetchFunc) (*model.Response, error) {
	cond := req.Clone(req.Context())
	if etag := entry.Response.Header.Get("ETag"); etag != "" {
		cond.Header.Set("If-None-Match", etag)
	}
	if lm := entry.Response.Header.Get("Last-Modified"); lm != "" {
		cond.Header.Set("If-Modified-Since", lm)
	}

	requestTime := c.now()
	resp, err := fetch(cond)
	if err != nil {
		return nil, err
	}
	responseTime := c.now()

	if resp.StatusCode >= 500 {
		// Keep the stale entry for stale-if-error.
		return resp, nil
	}
	if resp.StatusCode != http.StatusNotModified {
		c.store(req, key, resp, requestTime, responseTime, nil)
		return resp, nil
	}

	merged := entry.Response.Clone()
	for name, values := range resp.Header {
		if name == "Content-Length" {
			continue
		}
		merged.Header[name] = values
	}
	// The stored Date would otherwise age the refreshed entry.
	if resp.Header.Get("Date") == "" {
		merged.Header.Del("Date")
	}
	c.store(req, key, merged, requestTime, responseTime, entry.Vary)
	return merged, nil
}

func (c *Cache) revalidateAsync(req *http.Request, key string, entry *Entry, fetch FetchFunc) {
	if _, loaded := c.pending.LoadOrStore(key, struct{}{}); loaded {
		return
	}
	bg := req.Clone(context.WithoutCancel(req.Context()))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.pending.Delete(key)
		_, err, _ := c.group.Do(key, func() (any, error) {
			return c.revalidate(bg, key, entry, fetch)
		})
		if err != nil {
			c.logger.Warn("background revalidation failed", "key", key, "err", err)
		}
	}()
}

// store applies the forced TTL and keeps resp when it is cacheable.
func (c *Cache) store(req *http.Request, key string, resp *model.Response, requestTime, responseTime time.Time, vary url.Values) {
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	if c.ttl > 0 {
		resp.Header.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(c.ttl/time.Second)))
		resp.Header.Set("Expires", responseTime.Add(c.ttl).UTC().Format(http.TimeFormat))
		resp.Header.Del("Pragma")
	}
	if resp.Header.Get("Date") == "" {
		resp.Header.Set("Date", responseTime.UTC().Format(http.TimeFormat))
	}
	if !c.storable(req, resp, responseTime) {
		return
	}

	entry := &Entry{
		Response:     resp.Clone(),
		RequestTime:  requestTime,
		ResponseTime: responseTime,
		Vary:         vary,
	}
	// Cookies belong to the client that triggered the fetch.
	entry.Response.Header.Del("Set-Cookie")
	if entry.Vary == nil {
		entry.Vary = selectVary(resp.Header, req.Header)
	}
	b, err := encodeEntry(entry)
	if err != nil {
		c.logger.Warn("cache entry not stored", "key", key, "err", err)
		return
	}

	cc := parseCacheControl(resp.Header.Values("Cache-Control"))
	lifetime := freshnessLifetime(resp.Header, responseTime, c.heuristic)
	stale := max(c.window(cc, "stale-while-revalidate", c.swr), c.window(cc, "stale-if-error", c.sie))
	expires := responseTime.Add(lifetime + stale + staleRetention)
	if err := c.storage.Put(req.Context(), key, expires, b); err != nil {
		c.logger.Warn("cache storage write failed", "key", key, "err", err)
	}
}

func (c *Cache) storable(req *http.Request, resp *model.Response, responseTime time.Time) bool {
	switch resp.StatusCode {
	case http.StatusPartialContent, http.StatusNotModified:
		return false
	}
	if c.ttl == 0 && !c.cacheable[resp.StatusCode] {
		return false
	}
	cc := parseCacheControl(resp.Header.Values("Cache-Control"))
	if cc.has("no-store") || cc.has("private") {
		return false
	}
	for _, name := range varyNames(resp.Header) {
		if name == "*" {
			return false
		}
	}
	if req.Header.Get("Authorization") != "" && !cc.has("public") && !cc.has("s-maxage") {
		return false
	}
	return hasValidators(resp.Header) || freshnessLifetime(resp.Header, responseTime, c.heuristic) > 0
}

// answer prepares a response for one client: it turns a 200 into a 304
// when the client's own validators match and sets X-Cache.
func (c *Cache) answer(clientHeader http.Header, resp *model.Response, status, node string) *model.Response {
	out := resp.Clone()
	if out.StatusCode == http.StatusOK && isConditional(clientHeader) && notModified(clientHeader, out.Header) {
		out.StatusCode = http.StatusNotModified
		out.Body = nil
	}
	if c.xCache {
		out.Header.Set(XCacheHeader, status+" from "+node)
	}
	return out
}

func (c *Cache) record(result string) {
	if c.metrics != nil {
		c.metrics.CacheResults.WithLabelValues(result).Inc()
	}
}

func isSafe(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
