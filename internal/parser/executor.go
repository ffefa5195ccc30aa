package parser

import (
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Executor decides how expensive output (typically an include) is computed:
// immediately on the parsing goroutine, or concurrently as a future.
type Executor interface {
	Submit(fn func() (string, error)) Chunk
	NewBuffer() Buffer
}

// Sync runs submitted work immediately and buffers into strings.
type Sync struct{}

// Submit runs fn and returns its result as a chunk.
func (Sync) Submit(fn func() (string, error)) Chunk {
	s, err := run(fn)
	if err != nil {
		return Failed(err)
	}
	return Text(s)
}

// NewBuffer returns a forcing StringBuffer.
func (Sync) NewBuffer() Buffer { return &StringBuffer{} }

// Parallel runs submitted work on up to maxWorkers goroutines. When every
// worker is busy the caller runs the work itself, so nested submissions
// can never starve each other.
type Parallel struct {
	sem *semaphore.Weighted
}

// NewParallel creates a Parallel executor. maxWorkers <= 0 means 1.
func NewParallel(maxWorkers int) *Parallel {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Parallel{sem: semaphore.NewWeighted(int64(maxWorkers))}
}

// Submit starts fn and returns a chunk that waits for it.
func (p *Parallel) Submit(fn func() (string, error)) Chunk {
	if !p.sem.TryAcquire(1) {
		return Sync{}.Submit(fn)
	}

	f := &future{done: make(chan struct{})}
	go func() {
		defer p.sem.Release(1)
		defer close(f.done)
		f.s, f.err = run(fn)
	}()
	return f
}

// NewBuffer returns a FutureBuffer that keeps chunks unforced.
func (p *Parallel) NewBuffer() Buffer { return &FutureBuffer{} }

type future struct {
	done chan struct{}
	s    string
	err  error
}

func (f *future) Get() (string, error) {
	<-f.done
	return f.s, f.err
}

func run(fn func() (string, error)) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render panic: %v", r)
		}
	}()
	return fn()
}
