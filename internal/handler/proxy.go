package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"

	"github.com/labstack/echo/v4"

	"esigate-go/internal/config"
	"esigate-go/internal/cookie"
	"esigate-go/internal/driver"
	"esigate-go/internal/esi"
	"esigate-go/internal/model"
	"esigate-go/internal/parser"
)

// sessionIDPattern matches session ids embedded in URLs of error messages.
var sessionIDPattern = regexp.MustCompile(`(?i)(;jsessionid=)[^?&#\s"]+`)

// ProxyHandler dispatches client requests to the provider mapped on their
// path.
type ProxyHandler struct {
	registry      *driver.Registry
	sessions      *cookie.SessionStore
	inline        *esi.InlineStore
	sessionCookie string
	logger        *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. sessions and inline may be nil.
func NewProxyHandler(cfg *config.Config, reg *driver.Registry, sessions *cookie.SessionStore, inline *esi.InlineStore, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		registry:      reg,
		sessions:      sessions,
		inline:        inline,
		sessionCookie: cfg.Session.CookieName,
		logger:        logger.With("component", "proxy_handler"),
	}
}

// Handle serves a fetchable inline fragment named by the request path, or
// proxies the request to its provider.
func (h *ProxyHandler) Handle(c echo.Context) error {
	r := c.Request()

	if h.inline != nil && r.Method == http.MethodGet {
		if f, ok := h.inline.Fetchable(r.URL.Path); ok {
			return c.HTML(http.StatusOK, f.Content)
		}
	}

	d, mapping, ok := h.registry.Match(r.URL.Path)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "no provider for path",
		})
	}

	visible := &url.URL{
		Scheme:   c.Scheme(),
		Host:     r.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	req := driver.NewRequest(r, visible, c.RealIP(), h.sessions, h.sessionCookie)

	resp, err := d.Proxy(req, d.RelativeURL(r.URL.Path, r.URL.RawQuery, mapping))
	for _, ck := range req.ResponseCookies() {
		c.SetCookie(ck)
	}
	if err != nil {
		return h.mapError(c, d.Name(), err)
	}
	return h.write(c, resp)
}

func (h *ProxyHandler) write(c echo.Context, resp *model.Response) error {
	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)
	if len(resp.Body) == 0 {
		return nil
	}
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, provider string, err error) error {
	var page *model.ErrorPage
	if errors.As(err, &page) {
		h.logger.Warn("backend error page",
			"provider", provider,
			"err", sanitizeError(err),
			"path", c.Request().URL.Path,
		)
		return h.write(c, page.Response)
	}

	h.logger.Error("proxy error",
		"provider", provider,
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)

	var syntaxErr *parser.SyntaxError
	if errors.As(err, &syntaxErr) {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "page rendering failed",
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}

// sanitizeError redacts session ids from error messages that may contain
// backend URLs.
func sanitizeError(err error) string {
	return sessionIDPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
