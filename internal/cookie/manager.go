// Package cookie decides which backend cookies reach the client, which stay
// in the proxy session and which are dropped, and rewrites them across the
// proxy boundary.
package cookie

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Wildcard matches every cookie name in a discard or store list.
const Wildcard = "*"

// Context is the client request a cookie operation runs for.
type Context interface {
	// RequestURL is the absolute URL the client requested.
	RequestURL() *url.URL
	// RequestCookies are the cookies the client sent.
	RequestCookies() []*http.Cookie
	// SessionJar returns the session cookie jar, creating the session when
	// create is true. It returns nil when there is no session.
	SessionJar(create bool) *Jar
	// AddResponseCookie queues a cookie for the client response.
	AddResponseCookie(c *http.Cookie)
}

// Config partitions cookie names. Names in neither list are forwarded.
type Config struct {
	Discard        []string
	StoreInSession []string
}

// Validate checks the wildcard rules: "*" must be alone in a list and
// cannot be used in both lists.
func (c Config) Validate() error {
	if slices.Contains(c.StoreInSession, Wildcard) && len(c.StoreInSession) > 1 {
		return errors.New("store_cookies_in_session must be a list of cookie names OR *")
	}
	if slices.Contains(c.Discard, Wildcard) && len(c.Discard) > 1 {
		return errors.New("discard_cookies must be a list of cookie names OR *")
	}
	if slices.Contains(c.StoreInSession, Wildcard) && slices.Contains(c.Discard, Wildcard) {
		return errors.New("cannot use * for store_cookies_in_session AND discard_cookies at the same time")
	}
	return nil
}

// Manager applies a Config for one provider.
type Manager struct {
	discard      []string
	store        []string
	baseHost     string
	preserveHost bool
	logger       *slog.Logger
	now          func() time.Time
}

// NewManager creates a Manager for the provider at baseURL.
func NewManager(cfg Config, baseURL *url.URL, preserveHost bool, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		discard:      slices.Clone(cfg.Discard),
		store:        slices.Clone(cfg.StoreInSession),
		baseHost:     baseURL.Hostname(),
		preserveHost: preserveHost,
		logger:       logger.With("component", "cookie_manager"),
		now:          time.Now,
	}, nil
}

func (m *Manager) discarded(name string) bool {
	return slices.Contains(m.discard, name) ||
		(slices.Contains(m.discard, Wildcard) && !slices.Contains(m.store, name))
}

func (m *Manager) stored(name string) bool {
	return slices.Contains(m.store, name) || slices.Contains(m.store, Wildcard)
}

// AddCookie handles a cookie set by the backend: discard it, keep it in the
// session, or forward it to the client rewritten.
func (m *Manager) AddCookie(c *http.Cookie, ctx Context) {
	switch {
	case m.discarded(c.Name):
		m.logger.Debug("cookie discarded", "name", c.Name)
	case m.stored(c.Name):
		m.logger.Debug("cookie stored to session", "name", c.Name)
		ctx.SessionJar(true).Add(c, m.now())
	default:
		m.logger.Debug("cookie forwarded", "name", c.Name)
		ctx.AddResponseCookie(m.rewriteForBrowser(c, ctx))
	}
}

// GetCookies returns the cookies to send to the backend: the session ones
// followed by forwardable client cookies.
func (m *Manager) GetCookies(ctx Context) []*http.Cookie {
	var out []*http.Cookie
	if jar := ctx.SessionJar(false); jar != nil {
		jar.ClearExpired(m.now())
		out = append(out, jar.Cookies()...)
	}
	for _, c := range ctx.RequestCookies() {
		if m.stored(c.Name) || slices.Contains(m.discard, c.Name) || slices.Contains(m.discard, Wildcard) {
			continue
		}
		out = append(out, m.rewriteForServer(c, ctx))
	}
	return out
}

// ClearExpired drops expired session cookies.
func (m *Manager) ClearExpired(ctx Context) bool {
	if jar := ctx.SessionJar(false); jar != nil {
		return jar.ClearExpired(m.now())
	}
	return false
}

// Clear drops every session cookie.
func (m *Manager) Clear(ctx Context) {
	if jar := ctx.SessionJar(false); jar != nil {
		jar.Clear()
	}
}

func (m *Manager) rewriteForServer(c *http.Cookie, ctx Context) *http.Cookie {
	name := c.Name
	if strings.EqualFold(name, "_JSESSIONID") {
		name = name[1:]
	}
	domain := m.baseHost
	if m.preserveHost {
		domain = ctx.RequestURL().Hostname()
	}
	return &http.Cookie{Name: name, Value: c.Value, Domain: domain, Path: "/"}
}

func (m *Manager) rewriteForBrowser(c *http.Cookie, ctx Context) *http.Cookie {
	name := c.Name
	// Would clash with the proxy's own container session.
	if strings.EqualFold(name, "JSESSIONID") {
		name = "_" + name
	}

	reqURL := ctx.RequestURL()
	orig := c.Domain
	if orig == "" {
		orig = m.baseHost
	}
	domain := RewriteDomain(orig, m.baseHost, reqURL.Hostname())

	path := c.Path
	if path == "" || !strings.HasPrefix(reqURL.Path, path) {
		path = "/"
	}

	return &http.Cookie{
		Name:     name,
		Value:    c.Value,
		Domain:   domain,
		Path:     path,
		Expires:  c.Expires,
		MaxAge:   c.MaxAge,
		Secure:   c.Secure && reqURL.Scheme == "https",
		HttpOnly: c.HttpOnly,
		SameSite: c.SameSite,
	}
}

// RewriteDomain maps a backend cookie domain onto the client host. It keeps
// as many trailing labels of requestHost as the original domain has, and
// returns "" (no Domain attribute) when the cookie belongs to the provider
// host itself or when the result would be the whole request host.
func RewriteDomain(originalDomain, providerHost, requestHost string) string {
	if strings.EqualFold(providerHost, originalDomain) {
		return ""
	}
	originalDomain = strings.TrimPrefix(originalDomain, ".")
	origParts := strings.Split(originalDomain, ".")
	reqParts := strings.Split(requestHost, ".")

	n := min(len(origParts), len(reqParts))
	if n == len(reqParts) {
		return ""
	}
	return "." + strings.Join(reqParts[len(reqParts)-n:], ".")
}
