// Package pool implements a bounded object pool with an overall in-use
// permit budget and, optionally, per-key caches of reusable values. A
// single limit governs how many objects may be checked out across every
// key at once; each key keeps its own LIFO cache of values handed back by
// Release.
package pool

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrKeyNotFound is returned by Release when called with a key that
// Acquire has never seen. The permit is still returned to the pool
// regardless (see DESIGN.md, resolution of spec Open Question OQ-3).
var ErrKeyNotFound = errors.New("pool: release with unseen key")

// DefaultLimit is the in-use budget a Pool is constructed with when the
// caller does not specify one explicitly.
const DefaultLimit = 4096

// Pool is a bounded, optionally keyed object pool. The zero value is not
// usable; construct with New.
type Pool[K comparable, V any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	limit int
	cur   int

	cache    map[K][]V
	seenKeys map[K]struct{}
}

// New constructs a Pool with the given in-use limit. A limit <= 0 uses
// DefaultLimit.
func New[K comparable, V any](limit int) *Pool[K, V] {
	if limit <= 0 {
		limit = DefaultLimit
	}
	p := &Pool[K, V]{
		limit:    limit,
		cache:    make(map[K][]V),
		seenKeys: make(map[K]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// acquireConfig carries the optional knobs to Acquire.
type acquireConfig[V any] struct {
	forceNew bool
	isValid  func(V) bool
}

// AcquireOption configures a single call to Acquire.
type AcquireOption[V any] func(*acquireConfig[V])

// ForceNew skips the cache entirely: Acquire always calls the
// constructor function, even if a cached value for the key is
// available. The freed cached value, if any, remains in the pool for a
// later acquirer.
func ForceNew[V any]() AcquireOption[V] {
	return func(c *acquireConfig[V]) { c.forceNew = true }
}

// WithValidator supplies a predicate evaluated, under the pool's lock,
// against each cached candidate in LIFO order; candidates that fail are
// discarded silently and the next one is tried. Without WithValidator,
// every cached value is considered valid.
func WithValidator[V any](isValid func(V) bool) AcquireOption[V] {
	return func(c *acquireConfig[V]) { c.isValid = isValid }
}

// Acquire blocks until fewer than Limit objects are in use, then returns
// either a cached valid value for key (most-recently-released first) or
// the result of calling newFn. newFn runs outside the pool's lock; if it
// returns an error, the permit is released before Acquire returns so
// construction failures never leak budget.
func (p *Pool[K, V]) Acquire(key K, newFn func() (V, error), opts ...AcquireOption[V]) (V, error) {
	var cfg acquireConfig[V]
	for _, opt := range opts {
		opt(&cfg)
	}

	p.mu.Lock()
	for p.cur >= p.limit {
		p.cond.Wait()
	}
	p.cur++
	p.seenKeys[key] = struct{}{}

	var (
		reused V
		ok     bool
	)
	if !cfg.forceNew {
		bucket := p.cache[key]
		for len(bucket) > 0 {
			candidate := bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			if cfg.isValid == nil || cfg.isValid(candidate) {
				reused = candidate
				ok = true
				break
			}
			// invalid cached object: discarded silently, try the next one
		}
		p.cache[key] = bucket
	}
	p.mu.Unlock()

	if ok {
		return reused, nil
	}

	v, err := newFn()
	if err != nil {
		var zero V
		p.mu.Lock()
		p.cur--
		p.cond.Signal()
		p.mu.Unlock()
		return zero, err
	}
	return v, nil
}

// Release returns a permit to the pool, optionally pushing obj onto
// key's cache for reuse. Passing a nil obj just returns the permit.
//
// If key has never been passed to Acquire, Release returns
// ErrKeyNotFound when obj is non-nil; the permit is returned regardless.
func (p *Pool[K, V]) Release(key K, obj *V) error {
	p.mu.Lock()
	if p.cur <= 0 {
		p.mu.Unlock()
		panic("pool: release without a matching acquire")
	}
	p.cur--

	var err error
	if obj != nil {
		if _, seen := p.seenKeys[key]; !seen {
			err = fmt.Errorf("pool: %w: %v", ErrKeyNotFound, key)
		}
		p.cache[key] = append(p.cache[key], *obj)
	}
	p.cond.Signal()
	p.mu.Unlock()
	return err
}

// Drain empties every key's cache, freeing cached values for garbage
// collection without disturbing in-use accounting.
func (p *Pool[K, V]) Drain() {
	p.mu.Lock()
	p.cache = make(map[K][]V)
	p.mu.Unlock()
}

// Limit returns the pool's in-use budget.
func (p *Pool[K, V]) Limit() int { return p.limit }

// InUse returns the number of permits currently checked out.
func (p *Pool[K, V]) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

// InPool returns the total number of cached values across every key.
func (p *Pool[K, V]) InPool() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, bucket := range p.cache {
		n += len(bucket)
	}
	return n
}

// KeyType returns the pool's key type. Go's type system makes a
// wrong-type key a compile error rather than a runtime one: the
// compiler rejects a mismatched key at the Acquire/Release call site.
func (p *Pool[K, V]) KeyType() reflect.Type {
	return reflect.TypeOf((*K)(nil)).Elem()
}

// ValType returns the pool's value type.
func (p *Pool[K, V]) ValType() reflect.Type {
	return reflect.TypeOf((*V)(nil)).Elem()
}
