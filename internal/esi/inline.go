package esi

import (
	"sync"
	"time"
)

// Fragment is a named piece of content captured by <esi:inline>.
type Fragment struct {
	Name      string
	Fetchable bool
	// OriginalURL is the path of the page the fragment was found in.
	OriginalURL string
	Content     string
	StoredAt    time.Time
}

// InlineStore keeps inline fragments by name for the whole process. The
// last fragment stored under a name wins.
type InlineStore struct {
	mu        sync.RWMutex
	fragments map[string]Fragment
	now       func() time.Time
}

// NewInlineStore creates an empty store.
func NewInlineStore() *InlineStore {
	return &InlineStore{fragments: make(map[string]Fragment), now: time.Now}
}

// Store saves f, replacing any fragment with the same name.
func (s *InlineStore) Store(f Fragment) {
	f.StoredAt = s.now()
	s.mu.Lock()
	s.fragments[f.Name] = f
	s.mu.Unlock()
}

// Get returns the fragment called name.
func (s *InlineStore) Get(name string) (Fragment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fragments[name]
	return f, ok
}

// Fetchable returns the fragment called name if clients may request it
// directly.
func (s *InlineStore) Fetchable(name string) (Fragment, bool) {
	f, ok := s.Get(name)
	if !ok || !f.Fetchable {
		return Fragment{}, false
	}
	return f, true
}

// Len reports the number of stored fragments.
func (s *InlineStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fragments)
}

// Clear drops every fragment.
func (s *InlineStore) Clear() {
	s.mu.Lock()
	clear(s.fragments)
	s.mu.Unlock()
}
