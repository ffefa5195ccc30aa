package cookie

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"testing"
	"time"
)

type fakeContext struct {
	url      *url.URL
	incoming []*http.Cookie
	jar      *Jar
	outgoing []*http.Cookie
}

func newFakeContext(rawURL string, incoming ...*http.Cookie) *fakeContext {
	u, _ := url.Parse(rawURL)
	return &fakeContext{url: u, incoming: incoming}
}

func (f *fakeContext) RequestURL() *url.URL           { return f.url }
func (f *fakeContext) RequestCookies() []*http.Cookie { return f.incoming }
func (f *fakeContext) AddResponseCookie(c *http.Cookie) {
	f.outgoing = append(f.outgoing, c)
}

func (f *fakeContext) SessionJar(create bool) *Jar {
	if f.jar == nil && create {
		f.jar = &Jar{}
	}
	return f.jar
}

func newTestManager(t *testing.T, cfg Config, preserveHost bool) *Manager {
	t.Helper()
	base, _ := url.Parse("http://backend.internal:8080/app/")
	m, err := NewManager(cfg, base, preserveHost, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "empty", cfg: Config{}},
		{name: "lists", cfg: Config{Discard: []string{"a"}, StoreInSession: []string{"b", "c"}}},
		{name: "discard wildcard with exceptions", cfg: Config{Discard: []string{"*"}, StoreInSession: []string{"keep"}}},
		{name: "store wildcard not alone", cfg: Config{StoreInSession: []string{"*", "a"}}, wantErr: true},
		{name: "discard wildcard not alone", cfg: Config{Discard: []string{"a", "*"}}, wantErr: true},
		{name: "both wildcards", cfg: Config{Discard: []string{"*"}, StoreInSession: []string{"*"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddCookie_Classification(t *testing.T) {
	m := newTestManager(t, Config{Discard: []string{"*"}, StoreInSession: []string{"auth"}}, false)
	ctx := newFakeContext("http://front.example.com/page")

	m.AddCookie(&http.Cookie{Name: "tracking", Value: "1"}, ctx)
	m.AddCookie(&http.Cookie{Name: "auth", Value: "secret"}, ctx)

	if len(ctx.outgoing) != 0 {
		t.Errorf("outgoing = %v, want none", ctx.outgoing)
	}
	if ctx.jar == nil {
		t.Fatal("session jar not created")
	}
	stored := ctx.jar.Cookies()
	if len(stored) != 1 || stored[0].Name != "auth" {
		t.Errorf("session cookies = %v, want [auth]", stored)
	}
}

func TestAddCookie_ForwardRewritesForBrowser(t *testing.T) {
	m := newTestManager(t, Config{}, false)
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	tests := []struct {
		name       string
		requestURL string
		cookie     *http.Cookie
		want       http.Cookie
	}{
		{
			name:       "jsessionid renamed",
			requestURL: "http://front.example.com/app/page",
			cookie:     &http.Cookie{Name: "JSESSIONID", Value: "abc", Path: "/app"},
			want:       http.Cookie{Name: "_JSESSIONID", Value: "abc", Path: "/app"},
		},
		{
			name:       "path outside request falls back to root",
			requestURL: "http://front.example.com/other",
			cookie:     &http.Cookie{Name: "c", Value: "v", Path: "/app"},
			want:       http.Cookie{Name: "c", Value: "v", Path: "/"},
		},
		{
			name:       "secure cleared on http",
			requestURL: "http://front.example.com/",
			cookie:     &http.Cookie{Name: "c", Value: "v", Secure: true, HttpOnly: true, Expires: expires},
			want:       http.Cookie{Name: "c", Value: "v", Path: "/", HttpOnly: true, Expires: expires},
		},
		{
			name:       "secure kept on https",
			requestURL: "https://front.example.com/",
			cookie:     &http.Cookie{Name: "c", Value: "v", Secure: true},
			want:       http.Cookie{Name: "c", Value: "v", Path: "/", Secure: true},
		},
		{
			name:       "parent domain narrowed to request host suffix",
			requestURL: "http://www.front.com/",
			cookie:     &http.Cookie{Name: "c", Value: "v", Domain: ".internal"},
			want:       http.Cookie{Name: "c", Value: "v", Path: "/", Domain: ".com"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newFakeContext(tt.requestURL)
			m.AddCookie(tt.cookie, ctx)
			if len(ctx.outgoing) != 1 {
				t.Fatalf("outgoing = %d cookies, want 1", len(ctx.outgoing))
			}
			got := ctx.outgoing[0]
			if got.Name != tt.want.Name || got.Value != tt.want.Value || got.Path != tt.want.Path ||
				got.Domain != tt.want.Domain || got.Secure != tt.want.Secure || got.HttpOnly != tt.want.HttpOnly ||
				!got.Expires.Equal(tt.want.Expires) {
				t.Errorf("forwarded cookie = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestGetCookies(t *testing.T) {
	m := newTestManager(t, Config{Discard: []string{"drop"}, StoreInSession: []string{"kept"}}, false)
	ctx := newFakeContext("http://front.example.com/",
		&http.Cookie{Name: "_JSESSIONID", Value: "abc"},
		&http.Cookie{Name: "drop", Value: "x"},
		&http.Cookie{Name: "kept", Value: "client-copy"},
		&http.Cookie{Name: "plain", Value: "p"},
	)
	m.AddCookie(&http.Cookie{Name: "kept", Value: "server-copy"}, ctx)

	got := m.GetCookies(ctx)
	byName := map[string]*http.Cookie{}
	for _, c := range got {
		byName[c.Name] = c
	}

	if len(got) != 3 {
		t.Fatalf("GetCookies() = %d cookies, want 3: %v", len(got), got)
	}
	if c := byName["JSESSIONID"]; c == nil || c.Value != "abc" {
		t.Errorf("JSESSIONID = %v, want restored name with value abc", c)
	}
	if c := byName["kept"]; c == nil || c.Value != "server-copy" {
		t.Errorf("kept = %v, want session copy", c)
	}
	if c := byName["plain"]; c == nil || c.Domain != "backend.internal" || c.Path != "/" || c.Secure {
		t.Errorf("plain = %+v, want domain backend.internal path / not secure", c)
	}
	if byName["drop"] != nil {
		t.Error("discarded cookie sent to backend")
	}
}

func TestGetCookies_PreserveHost(t *testing.T) {
	m := newTestManager(t, Config{}, true)
	ctx := newFakeContext("http://front.example.com/", &http.Cookie{Name: "a", Value: "1"})
	got := m.GetCookies(ctx)
	if len(got) != 1 || got[0].Domain != "front.example.com" {
		t.Errorf("GetCookies() = %v, want domain front.example.com", got)
	}
}

func TestJSessionIDRoundTrip(t *testing.T) {
	m := newTestManager(t, Config{}, false)

	first := newFakeContext("http://front.example.com/")
	m.AddCookie(&http.Cookie{Name: "JSESSIONID", Value: "s1"}, first)
	if len(first.outgoing) != 1 || first.outgoing[0].Name != "_JSESSIONID" {
		t.Fatalf("forwarded = %v, want _JSESSIONID", first.outgoing)
	}

	second := newFakeContext("http://front.example.com/", first.outgoing[0])
	back := m.GetCookies(second)
	if len(back) != 1 || back[0].Name != "JSESSIONID" || back[0].Value != "s1" {
		t.Errorf("GetCookies() = %v, want JSESSIONID=s1", back)
	}
}

func TestRewriteDomain(t *testing.T) {
	tests := []struct {
		orig, provider, request string
		want                    string
	}{
		{"backend", "backend", "www.front.com", ""},
		{".foo.com", "www.foo.com", "www.bar.com", ".bar.com"},
		{"foo.com", "www.foo.com", "a.b.bar.com", ".bar.com"},
		{"a.b.foo.com", "www.foo.com", "www.bar.com", ""},
		{".foo.com", "www.foo.com", "localhost", ""},
		{".foo.com", "www.foo.com", "127.0.0.1", ".0.1"},
		{"www.foo.com", "www.foo.com", "127.0.0.1", ""},
	}
	for _, tt := range tests {
		if got := RewriteDomain(tt.orig, tt.provider, tt.request); got != tt.want {
			t.Errorf("RewriteDomain(%q, %q, %q) = %q, want %q", tt.orig, tt.provider, tt.request, got, tt.want)
		}
	}
}

func TestSessionStore(t *testing.T) {
	s := NewSessionStore(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	sess := s.Create()
	if sess.ID == "" {
		t.Fatal("empty session id")
	}
	if got, ok := s.Get(sess.ID); !ok || got != sess {
		t.Fatal("Get() did not return created session")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := s.Get(sess.ID); ok {
		t.Error("Get() returned idle session")
	}

	s.Create()
	now = now.Add(2 * time.Minute)
	if n := s.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestJar(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	j := &Jar{}
	j.Add(&http.Cookie{Name: "a", Value: "1"}, now)
	j.Add(&http.Cookie{Name: "a", Value: "2"}, now)
	j.Add(&http.Cookie{Name: "b", Value: "x", Expires: now.Add(time.Second)}, now)

	if got := j.Cookies(); len(got) != 2 {
		t.Fatalf("Cookies() = %v, want 2", got)
	}
	if !j.ClearExpired(now.Add(time.Minute)) {
		t.Error("ClearExpired() = false, want true")
	}
	got := j.Cookies()
	if len(got) != 1 || got[0].Value != "2" {
		t.Errorf("Cookies() = %v, want a=2", got)
	}

	j.Add(&http.Cookie{Name: "a", MaxAge: -1}, now)
	if len(j.Cookies()) != 0 {
		t.Error("deleting cookie did not remove stored one")
	}
}
