package pool

import "reflect"

// UnkeyedPool is a Pool with a single, implicit cache shared by every
// acquirer - the common case where callers don't need per-key sub-pools.
type UnkeyedPool[V any] struct {
	inner *Pool[struct{}, V]
}

// NewUnkeyed constructs an UnkeyedPool with the given in-use limit. A
// limit <= 0 uses DefaultLimit.
func NewUnkeyed[V any](limit int) *UnkeyedPool[V] {
	return &UnkeyedPool[V]{inner: New[struct{}, V](limit)}
}

// Acquire is Pool.Acquire without a key parameter.
func (p *UnkeyedPool[V]) Acquire(newFn func() (V, error), opts ...AcquireOption[V]) (V, error) {
	return p.inner.Acquire(struct{}{}, newFn, opts...)
}

// Release is Pool.Release without a key parameter. Since the pool has
// only ever seen the single implicit key, ErrKeyNotFound can never
// occur.
func (p *UnkeyedPool[V]) Release(obj *V) {
	_ = p.inner.Release(struct{}{}, obj)
}

// Drain empties the cache without disturbing in-use accounting.
func (p *UnkeyedPool[V]) Drain() { p.inner.Drain() }

// Limit returns the pool's in-use budget.
func (p *UnkeyedPool[V]) Limit() int { return p.inner.Limit() }

// InUse returns the number of permits currently checked out.
func (p *UnkeyedPool[V]) InUse() int { return p.inner.InUse() }

// InPool returns the number of cached values.
func (p *UnkeyedPool[V]) InPool() int { return p.inner.InPool() }

// ValType returns the pool's value type.
func (p *UnkeyedPool[V]) ValType() reflect.Type { return p.inner.ValType() }
