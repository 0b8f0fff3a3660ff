package modelfile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
)

// Registry tracks which model files are currently mapped so that a file is
// never mapped by two runtimes at once.
type Registry struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{held: make(map[string]chan struct{})}
}

// Lease is the exclusive right to map one model file. Release is idempotent.
type Lease struct {
	key  string
	r    *Registry
	ch   chan struct{}
	once sync.Once
}

func (l *Lease) Key() string { return l.key }

func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.r.mu.Lock()
		if l.r.held[l.key] == l.ch {
			delete(l.r.held, l.key)
		}
		l.r.mu.Unlock()
		close(l.ch)
	})
}

// TryAcquire returns ErrInUse when another lease holds the file.
func (r *Registry) TryAcquire(path string) (*Lease, error) {
	key := Key(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.held[key]; busy {
		return nil, fmt.Errorf("%w: %s", ErrInUse, key)
	}
	return r.grant(key), nil
}

// Acquire blocks until the file is free or ctx is done.
func (r *Registry) Acquire(ctx context.Context, path string) (*Lease, error) {
	key := Key(path)
	for {
		r.mu.Lock()
		ch, busy := r.held[key]
		if !busy {
			l := r.grant(key)
			r.mu.Unlock()
			return l, nil
		}
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Registry) InUse(path string) bool {
	key := Key(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.held[key]
	return busy
}

// grant must be called with r.mu held.
func (r *Registry) grant(key string) *Lease {
	l := &Lease{key: key, r: r, ch: make(chan struct{})}
	r.held[key] = l.ch
	return l
}

// Key normalises path so that different spellings of one file collide.
func Key(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
