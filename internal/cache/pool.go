package cache

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("resource pool closed")

// Pool is a bounded LRU of closable resources keyed by project id. Entries
// are reference counted: an evicted entry leaves the pool immediately but
// is closed only after its last lease is released. Until then a request for
// the same key revives it, so a key never has two live resources.
type Pool[V io.Closer] struct {
	name   string
	logger *slog.Logger

	mu  sync.Mutex
	lru *LRU[string, *poolEntry[V]]
	// retired holds evicted entries that are still leased.
	retired  map[string]*poolEntry[V]
	closed   bool
	draining bool
	// wg tracks background closes so Close can wait for them.
	wg sync.WaitGroup
}

type poolEntry[V io.Closer] struct {
	key     string
	value   V
	refs    int
	retired bool
}

// Lease is a handle on a pooled resource. Release must be called exactly
// once; extra calls are ignored.
type Lease[V io.Closer] struct {
	Value V

	once    sync.Once
	release func()
}

// Release returns the lease to the pool.
func (l *Lease[V]) Release() {
	l.once.Do(l.release)
}

func NewPool[V io.Closer](name string, capacity int, logger *slog.Logger) *Pool[V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool[V]{
		name:    name,
		logger:  logger.With("component", "cache", "pool", name),
		lru:     NewLRU[string, *poolEntry[V]](capacity),
		retired: make(map[string]*poolEntry[V]),
	}
}

// Acquire returns a lease on the resource for key, calling open on a miss.
// Membership changes are serialized so concurrent misses for one key never
// construct two resources.
func (p *Pool[V]) Acquire(key string, open func() (V, error)) (*Lease[V], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	if e, ok := p.lru.Get(key); ok {
		e.refs++
		return p.lease(e), nil
	}

	if e, ok := p.retired[key]; ok {
		delete(p.retired, key)
		e.retired = false
		e.refs++
		p.insertLocked(e)
		p.logger.Debug("resource revived", "key", key, "in_use", e.refs)
		return p.lease(e), nil
	}

	v, err := open()
	if err != nil {
		return nil, fmt.Errorf("open %s resource %s: %w", p.name, key, err)
	}

	e := &poolEntry[V]{key: key, value: v, refs: 1}
	p.insertLocked(e)
	p.logger.Debug("resource opened", "key", key, "size", p.lru.Len())
	return p.lease(e), nil
}

func (p *Pool[V]) insertLocked(e *poolEntry[V]) {
	if _, old, evicted := p.lru.Put(e.key, e); evicted {
		p.retireLocked(old)
	}
}

func (p *Pool[V]) lease(e *poolEntry[V]) *Lease[V] {
	return &Lease[V]{
		Value: e.value,
		release: func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			e.refs--
			if e.retired && e.refs == 0 {
				delete(p.retired, e.key)
				p.closeAsync(e)
			}
		},
	}
}

// retireLocked marks an entry evicted and closes it once unused.
func (p *Pool[V]) retireLocked(e *poolEntry[V]) {
	e.retired = true
	p.logger.Debug("resource evicted", "key", e.key, "in_use", e.refs)
	if e.refs == 0 {
		p.closeAsync(e)
		return
	}
	p.retired[e.key] = e
}

// closeAsync closes in the background; the evicting caller does not wait.
// Closes started after Close returned are not tracked.
func (p *Pool[V]) closeAsync(e *poolEntry[V]) {
	tracked := !p.closed || p.draining
	if tracked {
		p.wg.Add(1)
	}
	go func() {
		if tracked {
			defer p.wg.Done()
		}
		if err := e.value.Close(); err != nil {
			p.logger.Warn("close evicted resource", "key", e.key, "error", err)
		}
	}()
}

// Peek returns the resource for key without changing recency or taking a
// lease.
func (p *Pool[V]) Peek(key string) (V, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.lru.Peek(key)
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Keys lists resident keys from least to most recently used.
func (p *Pool[V]) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Keys()
}

func (p *Pool[V]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Len()
}

// Close retires every entry and waits for unleased ones to close. Entries
// still leased are closed when their lease is released.
func (p *Pool[V]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.draining = true
	for {
		_, e, ok := p.lru.RemoveOldest()
		if !ok {
			break
		}
		p.retireLocked(e)
	}
	p.draining = false
	p.mu.Unlock()

	p.wg.Wait()
}
