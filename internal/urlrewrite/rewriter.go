// Package urlrewrite maps URLs between a backend's base URL and the
// address clients see, in HTML bodies and in headers.
package urlrewrite

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	urlPattern = regexp.MustCompile(
		`(?i)<([^!:>]+)(src|href|action|background|content)\s*=\s*('[^<']*'|"[^<"]*")([^>]*)>`)
	jsConcatPattern    = regexp.MustCompile(`\+\s*'|\+\s*"|'\s*\+|"\s*\+`)
	metaRefreshPattern = regexp.MustCompile(`(?i)<\s*meta([^>]+)http-equiv\s*=\s*("|')refresh("|')`)
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Rewriter rewrites URLs. It is stateless apart from its logger.
type Rewriter struct {
	logger *slog.Logger
}

// New creates a Rewriter.
func New(logger *slog.Logger) *Rewriter {
	return &Rewriter{logger: logger.With("component", "url_rewriter")}
}

// RewriteURL re-expresses rawURL, found in a page fetched from requestURL,
// relative to visibleBaseURL instead of baseURL. URLs outside baseURL are
// returned untouched. When absolute is false the scheme and host are
// dropped, leaving a root-relative URL.
func (r *Rewriter) RewriteURL(rawURL, requestURL, baseURL, visibleBaseURL string, absolute bool) string {
	baseURL = withSlash(baseURL)
	visibleBaseURL = withSlash(visibleBaseURL)

	base, err := url.Parse(baseURL)
	if err != nil {
		return rawURL
	}
	visible, err := url.Parse(visibleBaseURL)
	if err != nil {
		return rawURL
	}

	var reqURL *url.URL
	if strings.HasPrefix(requestURL, visibleBaseURL) {
		reqURL, err = url.Parse(requestURL)
	} else {
		reqURL, err = concatPath(base, requestURL)
	}
	if err != nil {
		return rawURL
	}

	ref, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	abs := reqURL.ResolveReference(ref)

	rel, ok := relativize(base, abs)
	if !ok {
		r.logger.Debug("url kept unchanged", "url", rawURL)
		return rawURL
	}

	result := visible.ResolveReference(rel)
	if !absolute {
		result = removeServer(result)
	}
	r.logger.Debug("url fixed", "from", rawURL, "to", result.String())
	return result.String()
}

// RewriteReferer maps a client-side Referer back into the backend's URL
// space.
func (r *Rewriter) RewriteReferer(referer, baseURL, visibleBaseURL string) string {
	base, err := url.Parse(withSlash(baseURL))
	if err != nil {
		return referer
	}
	visible, err := url.Parse(withSlash(visibleBaseURL))
	if err != nil {
		return referer
	}
	u, err := url.Parse(referer)
	if err != nil {
		return referer
	}

	rel, ok := relativize(visible, u)
	if !ok {
		return referer
	}
	result := base.ResolveReference(rel)
	r.logger.Debug("referer fixed", "from", referer, "to", result.String())
	return result.String()
}

// RewriteRefresh rewrites the URL part of a Refresh header or meta
// refresh content such as "5; url=/next".
func (r *Rewriter) RewriteRefresh(input, requestURL, baseURL, visibleBaseURL string) string {
	i := strings.Index(strings.ToLower(input), "url=")
	if i < 0 {
		return input
	}
	target := input[i+len("url="):]
	return input[:i+len("url=")] + r.RewriteURL(target, requestURL, baseURL, visibleBaseURL, true)
}

// RewriteHTML rewrites src, href, action, background and meta refresh
// content attributes. Empty values, anchors and URLs built by JavaScript
// concatenation are left alone. Only the URL text is unescaped and
// re-escaped; the rest of the tag is copied as is.
func (r *Rewriter) RewriteHTML(input, requestURL, baseURL, visibleBaseURL string, absolute bool) string {
	var b strings.Builder
	b.Grow(len(input))
	last := 0

	for _, m := range urlPattern.FindAllStringSubmatchIndex(input, -1) {
		tag := input[m[0]:m[1]]
		prefix := input[m[2]:m[3]]
		attr := input[m[4]:m[5]]
		quote := input[m[7]-1 : m[7]]
		value := input[m[6]+1 : m[7]-1]
		rest := input[m[8]:m[9]]

		rewritten := value
		trimmed := html.UnescapeString(strings.TrimSpace(value))
		switch {
		case trimmed == "":
		case strings.HasPrefix(trimmed, "#"):
		case jsConcatPattern.MatchString(trimmed):
			r.logger.Debug("url in javascript kept unchanged", "url", value)
		case strings.EqualFold(attr, "content"):
			if metaRefreshPattern.MatchString(tag) {
				rewritten = htmlEscaper.Replace(r.RewriteRefresh(trimmed, requestURL, baseURL, visibleBaseURL))
			}
		default:
			rewritten = htmlEscaper.Replace(r.RewriteURL(trimmed, requestURL, baseURL, visibleBaseURL, absolute))
		}

		b.WriteString(input[last:m[0]])
		b.WriteString("<")
		b.WriteString(prefix)
		b.WriteString(attr)
		b.WriteString("=")
		b.WriteString(quote)
		b.WriteString(rewritten)
		b.WriteString(quote)
		b.WriteString(rest)
		b.WriteString(">")
		last = m[1]
	}
	b.WriteString(input[last:])
	return b.String()
}

func withSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

// concatPath appends a request path to the base URL path. Absolute URLs
// are used as they are.
func concatPath(base *url.URL, requestURL string) (*url.URL, error) {
	ref, err := url.Parse(requestURL)
	if err != nil {
		return nil, err
	}
	if ref.IsAbs() {
		return ref, nil
	}
	ref.Path = strings.TrimPrefix(ref.Path, "/")
	ref.RawPath = ""
	return base.ResolveReference(ref), nil
}

// relativize expresses u relative to base. It fails when u is not under
// base: different scheme or host, or a path outside base's directory.
func relativize(base, u *url.URL) (*url.URL, bool) {
	if base.Opaque != "" || u.Opaque != "" {
		return nil, false
	}
	if !strings.EqualFold(base.Scheme, u.Scheme) || !strings.EqualFold(base.Host, u.Host) {
		return nil, false
	}

	bp, cp := base.EscapedPath(), u.EscapedPath()
	if bp != cp {
		if !strings.HasSuffix(bp, "/") {
			bp += "/"
		}
		if !strings.HasPrefix(cp, bp) {
			return nil, false
		}
	}

	rest := strings.TrimPrefix(cp, bp)
	rel, err := url.Parse(rest)
	if err != nil || rel.Scheme != "" {
		// A first segment with a colon would read as a scheme.
		if rel, err = url.Parse("./" + rest); err != nil {
			return nil, false
		}
	}
	rel.RawQuery = u.RawQuery
	rel.ForceQuery = u.ForceQuery
	rel.Fragment = u.Fragment
	rel.RawFragment = u.RawFragment
	return rel, true
}

func removeServer(u *url.URL) *url.URL {
	out := *u
	out.Scheme = ""
	out.Host = ""
	out.User = nil
	if out.Path == "" {
		out.Path = "/"
	}
	return &out
}
