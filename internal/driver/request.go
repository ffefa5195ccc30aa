package driver

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"sync"

	"esigate-go/internal/cookie"
)

// Request is one client request as seen by the drivers. Copies made for
// nested renders share the cookie and session state.
type Request struct {
	// Original is the client request. It is never modified.
	Original *http.Request
	// VisibleURL is the absolute URL the client asked for.
	VisibleURL *url.URL
	RemoteAddr string

	driver *Driver
	state  *requestState
}

type requestState struct {
	mu            sync.Mutex
	sessions      *cookie.SessionStore
	sessionCookie string
	session       *cookie.Session
	created       bool
	localJar      *cookie.Jar
	cookies       []*http.Cookie
}

// NewRequest creates the Request for a client request. sessions may be nil,
// in which case stored cookies live only as long as the request.
func NewRequest(r *http.Request, visibleURL *url.URL, remoteAddr string, sessions *cookie.SessionStore, sessionCookie string) *Request {
	return &Request{
		Original:   r,
		VisibleURL: visibleURL,
		RemoteAddr: remoteAddr,
		state: &requestState{
			sessions:      sessions,
			sessionCookie: sessionCookie,
		},
	}
}

// Context returns the client request's context.
func (r *Request) Context() context.Context { return r.Original.Context() }

// Driver returns the driver currently rendering this request, or nil.
func (r *Request) Driver() *Driver { return r.driver }

// Registry returns the registry of the current driver, or nil.
func (r *Request) Registry() *Registry {
	if r.driver == nil {
		return nil
	}
	return r.driver.registry
}

func (r *Request) withDriver(d *Driver) *Request {
	if r.driver == d {
		return r
	}
	c := *r
	c.driver = d
	return &c
}

// RequestURL implements cookie.Context.
func (r *Request) RequestURL() *url.URL { return r.VisibleURL }

// RequestCookies implements cookie.Context. The proxy session cookie is
// left out.
func (r *Request) RequestCookies() []*http.Cookie {
	cookies := r.Original.Cookies()
	if r.state.sessions == nil {
		return cookies
	}
	return slices.DeleteFunc(cookies, func(c *http.Cookie) bool { return c.Name == r.state.sessionCookie })
}

// SessionJar implements cookie.Context.
func (r *Request) SessionJar(create bool) *cookie.Jar {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions == nil {
		if s.localJar == nil && create {
			s.localJar = &cookie.Jar{}
		}
		return s.localJar
	}
	if s.session == nil {
		if c, err := r.Original.Cookie(s.sessionCookie); err == nil {
			if sess, ok := s.sessions.Get(c.Value); ok {
				s.session = sess
			}
		}
	}
	if s.session == nil && create {
		s.session = s.sessions.Create()
		s.created = true
	}
	if s.session == nil {
		return nil
	}
	return s.session.Jar
}

// AddResponseCookie implements cookie.Context.
func (r *Request) AddResponseCookie(c *http.Cookie) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	r.state.cookies = append(r.state.cookies, c)
}

// ResponseCookies returns the cookies to set on the client response,
// including the session cookie when a session was created.
func (r *Request) ResponseCookies() []*http.Cookie {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]*http.Cookie(nil), s.cookies...)
	if s.created {
		out = append(out, &http.Cookie{
			Name:     s.sessionCookie,
			Value:    s.session.ID,
			Path:     "/",
			HttpOnly: true,
			Secure:   r.VisibleURL.Scheme == "https",
		})
	}
	return out
}
