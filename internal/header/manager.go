// Package header filters and rewrites headers crossing the proxy in both
// directions.
package header

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"esigate-go/internal/urlrewrite"
)

// ErrorHeader carries a diagnostic when a single header could not be
// processed.
const ErrorHeader = "X-Esigate-Error"

// Request headers never copied as is. Cookies and framing are handled by
// dedicated code; Accept-Encoding is owned by the backend transport so
// bodies arrive decoded.
var defaultRequestDiscards = []string{
	"Connection",
	"Content-Length",
	"Cache-Control",
	"Cookie",
	"Host",
	"Max-Forwards",
	"Pragma",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Accept-Encoding",
}

var defaultResponseDiscards = []string{
	"Connection",
	"Content-Length",
	"Content-MD5",
	"Date",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Set-Cookie",
	"Trailer",
	"Transfer-Encoding",
}

var sessionIDPattern = regexp.MustCompile(`(?i);jsessionid=[^?#;/]*`)

// Config adjusts the default filter lists.
type Config struct {
	ForwardRequestHeaders  []string
	DiscardRequestHeaders  []string
	ForwardResponseHeaders []string
	DiscardResponseHeaders []string
}

// Exchange describes the client request a header copy belongs to.
type Exchange struct {
	// RequestURL is the URL requested from the backend, relative to BaseURL
	// or absolute.
	RequestURL     string
	BaseURL        string
	VisibleBaseURL string
	RemoteAddr     string
	// Scheme of the client request, used for X-Forwarded-Proto.
	Scheme string
}

// Manager copies headers between client and backend messages.
type Manager struct {
	request  *FilterList
	response *FilterList
	rewriter *urlrewrite.Rewriter
	logger   *slog.Logger
}

// NewManager creates a Manager that forwards every header except the
// defaults above and cfg's discards.
func NewManager(cfg Config, rw *urlrewrite.Rewriter, logger *slog.Logger) *Manager {
	req := NewFilterList()
	req.Add("*")
	req.Remove(defaultRequestDiscards...)
	req.Add(cfg.ForwardRequestHeaders...)
	req.Remove(cfg.DiscardRequestHeaders...)

	resp := NewFilterList()
	resp.Add("*")
	resp.Remove(defaultResponseDiscards...)
	resp.Add(cfg.ForwardResponseHeaders...)
	resp.Remove(cfg.DiscardResponseHeaders...)

	return &Manager{
		request:  req,
		response: resp,
		rewriter: rw,
		logger:   logger.With("component", "header_manager"),
	}
}

// IsForwardedRequestHeader reports whether name is copied to backends.
func (m *Manager) IsForwardedRequestHeader(name string) bool { return m.request.Contains(name) }

// IsForwardedResponseHeader reports whether name is copied to clients.
func (m *Manager) IsForwardedResponseHeader(name string) bool { return m.response.Contains(name) }

// CopyRequestHeaders copies client headers src into the backend request
// headers dst. Referer is mapped into the backend URL space and
// X-Forwarded-For / X-Forwarded-Proto are maintained.
func (m *Manager) CopyRequestHeaders(x Exchange, src, dst http.Header) {
	for name, values := range src {
		if !m.request.Contains(name) {
			continue
		}
		if strings.EqualFold(name, "Referer") {
			for _, v := range values {
				dst.Add(name, m.rewriter.RewriteReferer(v, x.BaseURL, x.VisibleBaseURL))
			}
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}

	if x.RemoteAddr != "" {
		forwarded := x.RemoteAddr
		if prev := dst.Get("X-Forwarded-For"); prev != "" {
			forwarded = prev + ", " + x.RemoteAddr
		}
		dst.Set("X-Forwarded-For", forwarded)
	}
	if dst.Get("X-Forwarded-Proto") == "" && x.Scheme != "" {
		dst.Set("X-Forwarded-Proto", x.Scheme)
	}
}

// CopyResponseHeaders copies backend headers src into the client response
// headers dst, rewriting headers that carry URLs. A header that cannot be
// processed is reported in X-Esigate-Error and the copy goes on.
func (m *Manager) CopyResponseHeaders(x Exchange, src, dst http.Header) {
	for name, values := range src {
		// Bodies are handed over decoded.
		if strings.EqualFold(name, "Content-Encoding") || !m.response.Contains(name) {
			continue
		}
		for _, v := range values {
			out, err := m.rewriteResponseHeader(x, name, v)
			if err != nil {
				m.logger.Error("error while copying headers", "header", name, "err", err)
				dst.Add(ErrorHeader, fmt.Sprintf("Error processing header %s: %s", name, v))
				continue
			}
			dst.Add(name, out)
		}
	}
}

func (m *Manager) rewriteResponseHeader(x Exchange, name, value string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rewrite %s: %v", name, r)
		}
	}()

	switch http.CanonicalHeaderKey(name) {
	case "Location", "Content-Location":
		if _, err := url.Parse(value); err != nil {
			return "", err
		}
		v := m.rewriter.RewriteURL(value, x.RequestURL, x.BaseURL, x.VisibleBaseURL, true)
		return RemoveSessionID(v), nil
	case "Link":
		end := strings.IndexByte(value, '>')
		if !strings.HasPrefix(value, "<") || end < 0 {
			return value, nil
		}
		target := value[1:end]
		if _, err := url.Parse(target); err != nil {
			return "", err
		}
		rewritten := RemoveSessionID(m.rewriter.RewriteURL(target, x.RequestURL, x.BaseURL, x.VisibleBaseURL, true))
		return "<" + rewritten + value[end:], nil
	case "Refresh":
		if !strings.Contains(strings.ToLower(value), "url=") {
			return value, nil
		}
		return RemoveSessionID(m.rewriter.RewriteRefresh(value, x.RequestURL, x.BaseURL, x.VisibleBaseURL)), nil
	default:
		// P3P included: its policy URL is fixed and left alone.
		return value, nil
	}
}

// RemoveSessionID strips a ";jsessionid=..." path parameter from a URL.
func RemoveSessionID(u string) string {
	return sessionIDPattern.ReplaceAllString(u, "")
}
