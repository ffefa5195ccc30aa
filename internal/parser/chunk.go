package parser

import (
	"fmt"
	"strings"
	"sync"
)

// Chunk is a piece of output text that may not be known yet. Get blocks
// until the text is available and is safe to call more than once.
type Chunk interface {
	Get() (string, error)
}

// Text is an already materialized chunk.
type Text string

// Get returns the text itself.
func (t Text) Get() (string, error) { return string(t), nil }

// failed is a chunk whose computation already returned an error.
type failed struct{ err error }

func (f failed) Get() (string, error) { return "", f.err }

// Failed returns a chunk that always reports err.
func Failed(err error) Chunk { return failed{err: err} }

// lazy computes its text on first Get and memoizes the result.
type lazy struct {
	once sync.Once
	fn   func() (string, error)
	s    string
	err  error
}

// Lazy returns a chunk computed by fn on first use.
func Lazy(fn func() (string, error)) Chunk {
	return &lazy{fn: fn}
}

func (l *lazy) Get() (string, error) {
	l.once.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				l.err = fmt.Errorf("chunk panic: %v", r)
			}
		}()
		l.s, l.err = l.fn()
	})
	return l.s, l.err
}

// Buffer accumulates chunks in arrival order.
type Buffer interface {
	// Append adds c after everything appended so far. Depending on the
	// strategy it may force c and report its error immediately.
	Append(c Chunk) error
	// Chunk returns the concatenation of all appended chunks.
	Chunk() Chunk
	// Len reports how many chunks were appended.
	Len() int
}

// StringBuffer forces each chunk as it is appended.
type StringBuffer struct {
	b strings.Builder
	n int
}

// Append forces c and copies its text.
func (s *StringBuffer) Append(c Chunk) error {
	v, err := c.Get()
	if err != nil {
		return err
	}
	s.b.WriteString(v)
	s.n++
	return nil
}

// Chunk returns the accumulated text.
func (s *StringBuffer) Chunk() Chunk { return Text(s.b.String()) }

// Len reports the number of appended chunks.
func (s *StringBuffer) Len() int { return s.n }

// String returns the accumulated text.
func (s *StringBuffer) String() string { return s.b.String() }

// FutureBuffer queues chunks without forcing them. The joined chunk forces
// them in order, so output order never depends on completion order.
type FutureBuffer struct {
	mu     sync.Mutex
	chunks []Chunk
}

// Append queues c.
func (f *FutureBuffer) Append(c Chunk) error {
	f.mu.Lock()
	f.chunks = append(f.chunks, c)
	f.mu.Unlock()
	return nil
}

// Len reports the number of queued chunks.
func (f *FutureBuffer) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

// Chunk returns a chunk joining a snapshot of the queued chunks.
func (f *FutureBuffer) Chunk() Chunk {
	f.mu.Lock()
	chunks := make([]Chunk, len(f.chunks))
	copy(chunks, f.chunks)
	f.mu.Unlock()

	return Lazy(func() (string, error) {
		var b strings.Builder
		for _, c := range chunks {
			s, err := c.Get()
			if err != nil {
				return "", err
			}
			b.WriteString(s)
		}
		return b.String(), nil
	})
}
