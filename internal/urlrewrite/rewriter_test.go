package urlrewrite

import (
	"io"
	"log/slog"
	"testing"
)

func newTestRewriter() *Rewriter {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRewriteURL(t *testing.T) {
	const (
		base    = "http://backend/context/"
		visible = "http://front/"
	)

	tests := []struct {
		name       string
		url        string
		requestURL string
		base       string
		visible    string
		absolute   bool
		want       string
	}{
		{
			name:       "redirect to other host",
			url:        "http://www.foo.com:8080/somewhere/",
			requestURL: "/foo/",
			base:       "http://www.foo.com:8080/",
			visible:    "http://www.bar.com/",
			absolute:   true,
			want:       "http://www.bar.com/somewhere/",
		},
		{
			name:       "relative url absolute mode",
			url:        "images/a.png",
			requestURL: "/app/page.html",
			base:       base,
			visible:    visible,
			absolute:   true,
			want:       "http://front/app/images/a.png",
		},
		{
			name:       "relative url relative mode",
			url:        "images/a.png",
			requestURL: "/app/page.html",
			base:       base,
			visible:    visible,
			want:       "/app/images/a.png",
		},
		{
			name:       "dot segments normalized",
			url:        "../other/./b.css",
			requestURL: "/app/sub/page.html",
			base:       base,
			visible:    visible,
			absolute:   true,
			want:       "http://front/app/other/b.css",
		},
		{
			name:       "root relative keeps query and fragment",
			url:        "/context/p?x=1#f",
			requestURL: "/",
			base:       base,
			visible:    visible,
			absolute:   true,
			want:       "http://front/p?x=1#f",
		},
		{
			name:       "base without trailing slash",
			url:        "/context/p",
			requestURL: "/",
			base:       "http://backend/context",
			visible:    "http://front/mapped",
			absolute:   true,
			want:       "http://front/mapped/p",
		},
		{
			name:       "outside proxied namespace",
			url:        "http://elsewhere.com/x",
			requestURL: "/",
			base:       base,
			visible:    visible,
			absolute:   true,
			want:       "http://elsewhere.com/x",
		},
		{
			name:       "outside base path",
			url:        "/static/x.js",
			requestURL: "/",
			base:       base,
			visible:    visible,
			want:       "/static/x.js",
		},
		{
			name:       "already visible url is unchanged",
			url:        "http://front/page",
			requestURL: "/",
			base:       base,
			visible:    visible,
			absolute:   true,
			want:       "http://front/page",
		},
		{
			name:       "base url itself",
			url:        "http://backend/context/",
			requestURL: "/",
			base:       base,
			visible:    visible,
			absolute:   true,
			want:       "http://front/",
		},
	}

	r := newTestRewriter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.RewriteURL(tt.url, tt.requestURL, tt.base, tt.visible, tt.absolute)
			if got != tt.want {
				t.Errorf("RewriteURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestRewriteURL_Idempotent(t *testing.T) {
	r := newTestRewriter()
	once := r.RewriteURL("/context/a/b", "/", "http://backend/context/", "http://front/", true)
	twice := r.RewriteURL(once, "/", "http://backend/context/", "http://front/", true)
	if once != twice {
		t.Errorf("second rewrite = %q, want %q", twice, once)
	}
}

func TestRewriteReferer(t *testing.T) {
	r := newTestRewriter()
	tests := []struct {
		referer string
		want    string
	}{
		{"http://front/app/page?q=1", "http://backend/context/app/page?q=1"},
		{"http://front/", "http://backend/context/"},
		{"http://elsewhere/x", "http://elsewhere/x"},
	}
	for _, tt := range tests {
		if got := r.RewriteReferer(tt.referer, "http://backend/context", "http://front"); got != tt.want {
			t.Errorf("RewriteReferer(%q) = %q, want %q", tt.referer, got, tt.want)
		}
	}
}

func TestRewriteRefresh(t *testing.T) {
	r := newTestRewriter()
	tests := []struct {
		input string
		want  string
	}{
		{"5; url=/context/next", "5; url=http://front/next"},
		{"0;URL=/context/next", "0;URL=http://front/next"},
		{"10", "10"},
	}
	for _, tt := range tests {
		if got := r.RewriteRefresh(tt.input, "/", "http://backend/context/", "http://front/"); got != tt.want {
			t.Errorf("RewriteRefresh(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRewriteHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "href rewritten",
			input: `<a class="x" href="/context/page">link</a>`,
			want:  `<a class="x" href="http://front/page">link</a>`,
		},
		{
			name:  "entities round trip",
			input: `<a href='/context/page?a=1&amp;b=2' id="l">`,
			want:  `<a href='http://front/page?a=1&amp;b=2' id="l">`,
		},
		{
			name:  "anchor kept",
			input: `<a href="#top">`,
			want:  `<a href="#top">`,
		},
		{
			name:  "empty kept",
			input: `<img src="" alt="">`,
			want:  `<img src="" alt="">`,
		},
		{
			name:  "javascript concatenation kept",
			input: `<a href="' + base + '/x">`,
			want:  `<a href="' + base + '/x">`,
		},
		{
			name:  "meta refresh rewritten",
			input: `<meta http-equiv="refresh" content="0; url=/context/x">`,
			want:  `<meta http-equiv="refresh" content="0; url=http://front/x">`,
		},
		{
			name:  "other meta content kept",
			input: `<meta name="description" content="/context/x">`,
			want:  `<meta name="description" content="/context/x">`,
		},
		{
			name:  "namespaced directive untouched",
			input: `<esi:include src="/context/x"/>`,
			want:  `<esi:include src="/context/x"/>`,
		},
		{
			name:  "text around tags preserved",
			input: `before <form action="/context/post" method="post"> after`,
			want:  `before <form action="http://front/post" method="post"> after`,
		},
	}

	r := newTestRewriter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.RewriteHTML(tt.input, "/", "http://backend/context/", "http://front/", true)
			if got != tt.want {
				t.Errorf("RewriteHTML() = %q, want %q", got, tt.want)
			}
		})
	}
}
