package cookie

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Jar holds cookies kept on the proxy side for one client session.
type Jar struct {
	mu      sync.Mutex
	cookies []*http.Cookie
}

// Add stores c, replacing a cookie with the same name, domain and path.
// An already expired cookie removes the stored one.
func (j *Jar) Add(c *http.Cookie, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i, old := range j.cookies {
		if old.Name == c.Name && strings.EqualFold(old.Domain, c.Domain) && old.Path == c.Path {
			j.cookies = append(j.cookies[:i], j.cookies[i+1:]...)
			break
		}
	}
	if !expired(c, now) {
		cp := *c
		j.cookies = append(j.cookies, &cp)
	}
}

// Cookies returns copies of the stored cookies.
func (j *Jar) Cookies() []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*http.Cookie, 0, len(j.cookies))
	for _, c := range j.cookies {
		cp := *c
		out = append(out, &cp)
	}
	return out
}

// ClearExpired drops cookies expired at now and reports whether any were
// removed.
func (j *Jar) ClearExpired(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	kept := j.cookies[:0]
	for _, c := range j.cookies {
		if !expired(c, now) {
			kept = append(kept, c)
		}
	}
	removed := len(kept) != len(j.cookies)
	j.cookies = kept
	return removed
}

// Clear drops every cookie.
func (j *Jar) Clear() {
	j.mu.Lock()
	j.cookies = nil
	j.mu.Unlock()
}

func expired(c *http.Cookie, now time.Time) bool {
	if c.MaxAge < 0 {
		return true
	}
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// Session is the proxy-side state of one client.
type Session struct {
	ID  string
	Jar *Jar

	lastAccess time.Time
}

// SessionStore keeps sessions in memory and forgets them after ttl of
// inactivity.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore creates a SessionStore.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{sessions: map[string]*Session{}, ttl: ttl, now: time.Now}
}

// Get returns a live session and marks it used.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	if s.ttl > 0 && now.Sub(sess.lastAccess) > s.ttl {
		delete(s.sessions, id)
		return nil, false
	}
	sess.lastAccess = now
	return sess, true
}

// Create starts a new session with a random identifier.
func (s *SessionStore) Create() *Session {
	sess := &Session{ID: uuid.NewString(), Jar: &Jar{}}
	s.mu.Lock()
	sess.lastAccess = s.now()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Sweep evicts idle sessions and returns how many were removed.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ttl <= 0 {
		return 0
	}
	now := s.now()
	n := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.lastAccess) > s.ttl {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Len reports the number of sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
