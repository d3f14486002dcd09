package generic

import "sync"

// Pool is a typed sync.Pool. Reset, when set, runs on every value handed back
// by Get so callers never see stale state.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T) T
}

func NewPool[T any](generate func() T) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
	}
}

// NewResettingPool is NewPool with a reset hook applied on Get.
func NewResettingPool[T any](generate func() T, reset func(T) T) *Pool[T] {
	p := NewPool[T](generate)
	p.reset = reset
	return p
}

func (p *Pool[T]) Get() T {
	v := p.pool.Get().(T)
	if p.reset != nil {
		v = p.reset(v)
	}
	return v
}

func (p *Pool[T]) Put(value T) {
	p.pool.Put(value)
}

// Grow returns buf resliced to n, reallocating only when its capacity is short.
func Grow[T any](buf []T, n int) []T {
	if cap(buf) < n {
		return make([]T, n)
	}
	return buf[:n]
}
