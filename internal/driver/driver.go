// Package driver fetches pages from a provider backend, runs renderers over
// them and proxies client requests, applying the header and cookie rules of
// the provider.
package driver

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"esigate-go/internal/client"
	"esigate-go/internal/config"
	"esigate-go/internal/cookie"
	"esigate-go/internal/header"
	"esigate-go/internal/httpcache"
	"esigate-go/internal/metrics"
	"esigate-go/internal/model"
	"esigate-go/internal/urlrewrite"
)

// Renderer transforms fetched page content.
type Renderer interface {
	Render(req *Request, content string) (string, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(req *Request, content string) (string, error)

func (f RendererFunc) Render(req *Request, content string) (string, error) { return f(req, content) }

// Driver serves one provider.
type Driver struct {
	name     string
	cfg      config.ProviderConfig
	backend  *client.Backend
	cache    *httpcache.Cache
	headers  *header.Manager
	cookies  *cookie.Manager
	rewriter *urlrewrite.Rewriter
	events   *EventManager
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Options groups the collaborators shared by every driver. Cache and
// Metrics are optional.
type Options struct {
	HTTPClient *http.Client
	Cache      *httpcache.Cache
	Rewriter   *urlrewrite.Rewriter
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// New creates the driver for provider pc.
func New(pc config.ProviderConfig, opts Options) (*Driver, error) {
	logger := opts.Logger.With("component", "driver", "provider", pc.Name)

	backend, err := client.NewBackend(pc.Name, pc.RemoteURLBase, opts.HTTPClient, opts.Logger, opts.Metrics)
	if err != nil {
		return nil, fmt.Errorf("driver %s: %w", pc.Name, err)
	}
	cookies, err := cookie.NewManager(cookie.Config{
		Discard:        pc.DiscardCookies,
		StoreInSession: pc.StoreCookiesInSession,
	}, backend.Base(), pc.PreserveHost, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("driver %s: %w", pc.Name, err)
	}
	headers := header.NewManager(header.Config{
		ForwardRequestHeaders:  pc.ForwardRequestHeaders,
		DiscardRequestHeaders:  pc.DiscardRequestHeaders,
		ForwardResponseHeaders: pc.ForwardResponseHeaders,
		DiscardResponseHeaders: pc.DiscardResponseHeaders,
	}, opts.Rewriter, opts.Logger)

	if len(pc.ParsableContentTypes) == 0 {
		pc.ParsableContentTypes = config.DefaultParsableContentTypes
	}
	if len(pc.URIMapping) == 0 {
		pc.URIMapping = []string{"/"}
	}

	return &Driver{
		name:     pc.Name,
		cfg:      pc,
		backend:  backend,
		cache:    opts.Cache,
		headers:  headers,
		cookies:  cookies,
		rewriter: opts.Rewriter,
		events:   NewEventManager(),
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// Use initializes extensions on d in order.
func (d *Driver) Use(exts ...Extension) error {
	for _, x := range exts {
		if err := x.Init(d); err != nil {
			return fmt.Errorf("driver %s: init extension: %w", d.name, err)
		}
	}
	return nil
}

// Name returns the provider name.
func (d *Driver) Name() string { return d.name }

// Config returns the provider configuration.
func (d *Driver) Config() config.ProviderConfig { return d.cfg }

// Events returns the driver's event manager.
func (d *Driver) Events() *EventManager { return d.events }

// RelativeURL maps a client path and query onto this provider, stripping
// mapping when the provider is configured to.
func (d *Driver) RelativeURL(path, rawQuery, mapping string) string {
	if d.cfg.StripMappingPath && mapping != "/" {
		path = strings.TrimPrefix(path, strings.TrimSuffix(mapping, "/"))
	}
	rel := strings.TrimPrefix(path, "/")
	if rawQuery != "" {
		rel += "?" + rawQuery
	}
	return rel
}

// VisibleBaseURL returns the base URL clients use to reach this provider.
func (d *Driver) VisibleBaseURL(req *Request) string {
	if d.cfg.VisibleURLBase != "" {
		return withSlash(d.cfg.VisibleURLBase)
	}
	path := "/"
	if d.cfg.StripMappingPath && d.cfg.URIMapping[0] != "/" {
		path = withSlash(d.cfg.URIMapping[0])
	}
	return req.VisibleURL.Scheme + "://" + req.VisibleURL.Host + path
}

// Render fetches relURL from this provider and runs renderers over it.
// A backend status of 400 or more is returned as a *model.ErrorPage.
func (d *Driver) Render(req *Request, relURL string, renderers ...Renderer) (string, error) {
	req = req.withDriver(d)
	resp, x, err := d.fetch(req, http.MethodGet, relURL, nil, false)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", d.errorPage(x, relURL, resp)
	}
	content, _, err := decodeBody(resp)
	if err != nil {
		return "", fmt.Errorf("driver %s: decode %s: %w", d.name, relURL, err)
	}
	return d.render(req, x, relURL, content, renderers)
}

// Proxy forwards the client request to relURL and returns the response to
// send back, rendered when its content type is parsable.
func (d *Driver) Proxy(req *Request, relURL string) (*model.Response, error) {
	req = req.withDriver(d)

	var body []byte
	if req.Original.Body != nil {
		b, err := io.ReadAll(req.Original.Body)
		if err != nil {
			return nil, fmt.Errorf("driver %s: read request body: %w", d.name, err)
		}
		body = b
	}

	ev := &ProxyEvent{Request: req, URL: relURL}
	if err := d.events.firePreProxy(ev); err != nil {
		return nil, err
	}

	resp, x, err := d.fetch(req, req.Original.Method, relURL, body, !d.rendering())
	if err != nil {
		return nil, err
	}

	out := &model.Response{StatusCode: resp.StatusCode, Header: http.Header{}, Body: resp.Body}
	d.headers.CopyResponseHeaders(x, resp.Header, out.Header)

	if d.isParsable(resp) && len(resp.Body) > 0 && req.Original.Method != http.MethodHead {
		content, enc, err := decodeBody(resp)
		if err != nil {
			return nil, fmt.Errorf("driver %s: decode %s: %w", d.name, relURL, err)
		}
		rendered, err := d.render(req, x, relURL, content, nil)
		if err != nil {
			return nil, err
		}
		if out.Body, err = encodeBody(rendered, enc); err != nil {
			return nil, fmt.Errorf("driver %s: encode %s: %w", d.name, relURL, err)
		}
	}

	ev.Response = out
	d.events.firePostProxy(ev)
	return out, nil
}

func (d *Driver) rendering() bool {
	return len(d.cfg.Renderers) > 0 || d.cfg.FixResources
}

func (d *Driver) isParsable(resp *model.Response) bool {
	ct := resp.ContentType()
	return slices.ContainsFunc(d.cfg.ParsableContentTypes, func(p string) bool {
		return strings.EqualFold(p, ct)
	})
}

func (d *Driver) render(req *Request, x header.Exchange, relURL, content string, renderers []Renderer) (string, error) {
	start := time.Now()
	ev := &RenderEvent{Request: req, URL: relURL, Renderers: renderers}
	if err := d.events.firePreRender(ev); err != nil {
		return "", err
	}

	if d.cfg.FixResources {
		content = d.rewriter.RewriteHTML(content, x.RequestURL, x.BaseURL, x.VisibleBaseURL, d.cfg.FixMode == "absolute")
	}
	for _, r := range ev.Renderers {
		out, err := r.Render(req, content)
		if err != nil {
			return "", err
		}
		content = out
	}

	ev.Content = content
	d.events.firePostRender(ev)
	if d.metrics != nil {
		d.metrics.RenderDuration.WithLabelValues(d.name).Observe(time.Since(start).Seconds())
	}
	return ev.Content, nil
}

// fetch sends one request to a backend node. Client conditional headers
// are kept only when conditional is true.
func (d *Driver) fetch(req *Request, method, relURL string, body []byte, conditional bool) (*model.Response, header.Exchange, error) {
	node := d.backend.NextNode()
	target, err := resolveURL(node, relURL)
	if err != nil {
		return nil, header.Exchange{}, fmt.Errorf("driver %s: resolve %q: %w", d.name, relURL, err)
	}
	x := header.Exchange{
		RequestURL:     relURL,
		BaseURL:        node.String(),
		VisibleBaseURL: d.VisibleBaseURL(req),
		RemoteAddr:     req.RemoteAddr,
		Scheme:         req.VisibleURL.Scheme,
	}

	var rdr io.Reader
	if len(body) > 0 {
		rdr = bytes.NewReader(body)
	}
	out, err := http.NewRequestWithContext(req.Context(), method, target.String(), rdr)
	if err != nil {
		return nil, x, fmt.Errorf("driver %s: build request: %w", d.name, err)
	}
	d.headers.CopyRequestHeaders(x, req.Original.Header, out.Header)
	if !conditional {
		out.Header.Del("If-None-Match")
		out.Header.Del("If-Modified-Since")
	}
	if d.cfg.PreserveHost {
		out.Host = req.Original.Host
	}
	for _, c := range d.cookies.GetCookies(req) {
		out.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}

	ev := &FetchEvent{Request: req, HTTPRequest: out}
	if err := d.events.firePreFetch(ev); err != nil {
		return nil, x, err
	}

	var resp *model.Response
	if d.cache != nil {
		resp, err = d.cache.Do(ev.HTTPRequest, d.virtualHost(req, ev.HTTPRequest.URL), d.backend.Do)
	} else {
		resp, err = d.backend.Do(ev.HTTPRequest)
	}
	ev.Response, ev.Err = resp, err
	d.events.firePostFetch(ev)
	if err != nil {
		return nil, x, fmt.Errorf("driver %s: fetch %s: %w", d.name, target.Redacted(), err)
	}

	for _, c := range (&http.Response{Header: resp.Header}).Cookies() {
		d.cookies.AddCookie(c, req)
	}
	return resp, x, nil
}

// virtualHost keys cache entries independently of the node serving them.
// Absolute URLs outside the provider's nodes keep their own origin.
func (d *Driver) virtualHost(req *Request, target *url.URL) string {
	if !d.backend.Owns(target) {
		return target.Scheme + "://" + target.Host
	}
	if d.cfg.PreserveHost {
		return req.Original.Host
	}
	return d.name
}

func (d *Driver) errorPage(x header.Exchange, relURL string, resp *model.Response) *model.ErrorPage {
	out := &model.Response{StatusCode: resp.StatusCode, Header: http.Header{}, Body: resp.Body}
	d.headers.CopyResponseHeaders(x, resp.Header, out.Header)
	return &model.ErrorPage{URL: relURL, Response: out}
}

// resolveURL appends rel to the node base path. Absolute URLs are used as
// they are.
func resolveURL(base *url.URL, rel string) (*url.URL, error) {
	ref, err := url.Parse(rel)
	if err != nil {
		return nil, err
	}
	if ref.IsAbs() {
		return ref, nil
	}
	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	u.RawPath = ""
	u.RawQuery = ref.RawQuery
	u.Fragment = ""
	return &u, nil
}
