package querycache

import (
	"context"
	"log/slog"
	"sync"
)

// Subscription receives the Updates of a single key until closed.
type Subscription struct {
	key  Key
	ch   chan Update
	c    *Cache
	once sync.Once
}

func (s *Subscription) Updates() <-chan Update {
	return s.ch
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.c.mu.Lock()
		defer s.c.mu.Unlock()
		set, ok := s.c.subs[s.key]
		if !ok {
			return
		}
		if _, ok := set[s]; !ok {
			return
		}
		delete(set, s)
		if len(set) == 0 {
			delete(s.c.subs, s.key)
		}
		close(s.ch)
	})
}

// Subscribe returns a Subscription to key. On a closed cache the Updates
// channel is already closed.
func (c *Cache) Subscribe(key Key) *Subscription {
	sub := &Subscription{key: key, ch: make(chan Update, c.bufSize), c: c}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(sub.ch)
		return sub
	}
	set, ok := c.subs[key]
	if !ok {
		set = make(map[*Subscription]struct{})
		c.subs[key] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (c *Cache) publishLocked(u Update) {
	for sub := range c.subs[u.Key] {
		select {
		case sub.ch <- u:
			continue
		default:
		}
		// drop the oldest pending update so the newest always lands
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- u:
		default:
			slog.Warn("dropping cache update for slow subscriber", slog.String("key", u.Key.String()))
		}
	}
}

func (c *Cache) addWatcher(key Key, w *watcher) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	set, ok := c.watchers[key]
	if !ok {
		set = make(map[*watcher]struct{})
		c.watchers[key] = set
	}
	set[w] = struct{}{}
	return true
}

func (c *Cache) removeWatcher(key Key, w *watcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.watchers[key]
	if !ok {
		return
	}
	delete(set, w)
	if len(set) == 0 {
		delete(c.watchers, key)
	}
}

// Watch queries key and keeps delivering its value on the returned channel
// every time it is refetched, until ctx ends or the cache closes. While the
// watch lasts an invalidation of key triggers a refetch in the background.
// Each stored value is delivered at most once.
func Watch[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error)) (<-chan T, error) {
	// registered before the first read so an invalidation racing it refetches
	sub := c.Subscribe(key)
	w := &watcher{fetch: erase(fetch)}
	if !c.addWatcher(key, w) {
		sub.Close()
		return nil, ErrClosed
	}

	first, err := Query(ctx, c, key, fetch)
	if err != nil {
		c.removeWatcher(key, w)
		sub.Close()
		return nil, err
	}
	var seen uint64
	if v, seq, ok := c.snapshot(key); ok {
		if t, ok := v.(T); ok {
			first, seen = t, seq
		}
	}

	out := make(chan T, 1)
	out <- first
	go func() {
		defer close(out)
		defer sub.Close()
		defer c.removeWatcher(key, w)

		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-sub.Updates():
				if !ok {
					return
				}
				if u.Invalidated || u.seq <= seen {
					continue
				}
				v, ok := u.Value.(T)
				if !ok {
					continue
				}
				seen = u.seq
				// keep only the latest value for a slow reader
				select {
				case <-out:
				default:
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
