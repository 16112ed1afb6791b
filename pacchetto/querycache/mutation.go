package querycache

import (
	"context"
	"sync/atomic"
)

type MutateOptions[R any] struct {
	// Invalidates lists the keys marked stale after a successful mutation.
	Invalidates []Key
	OnSuccess   func(R)
	OnError     func(error)
}

// Mutation wraps a write against a resource service. It invalidates the
// configured keys on success and reports whether a call is pending.
type Mutation[P, R any] struct {
	cache   *Cache
	fn      func(context.Context, P) (R, error)
	opts    MutateOptions[R]
	pending atomic.Int32
}

func NewMutation[P, R any](c *Cache, fn func(context.Context, P) (R, error), opts MutateOptions[R]) *Mutation[P, R] {
	return &Mutation[P, R]{cache: c, fn: fn, opts: opts}
}

func (m *Mutation[P, R]) IsPending() bool {
	return m.pending.Load() > 0
}

func (m *Mutation[P, R]) Mutate(ctx context.Context, payload P) (R, error) {
	m.pending.Add(1)
	defer m.pending.Add(-1)

	res, err := m.fn(ctx, payload)
	if err != nil {
		if m.opts.OnError != nil {
			m.opts.OnError(err)
		}
		return res, err
	}

	if m.cache != nil && len(m.opts.Invalidates) > 0 {
		m.cache.Invalidate(m.opts.Invalidates...)
	}
	if m.opts.OnSuccess != nil {
		m.opts.OnSuccess(res)
	}
	return res, nil
}

// Mutate runs fn once with the given options.
func Mutate[P, R any](ctx context.Context, c *Cache, fn func(context.Context, P) (R, error), payload P, opts MutateOptions[R]) (R, error) {
	return NewMutation(c, fn, opts).Mutate(ctx, payload)
}
