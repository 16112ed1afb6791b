package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := New(Options{StaleTime: time.Minute, Now: clock.Now})
	t.Cleanup(c.Close)
	return c, clock
}

type countingFetcher struct {
	calls atomic.Int32
	value []string
}

func (f *countingFetcher) fetch(context.Context) ([]string, error) {
	f.calls.Add(1)
	return f.value, nil
}

func TestKeyCovers(t *testing.T) {
	tests := []struct {
		name  string
		key   Key
		other Key
		want  bool
	}{
		{"collection covers itself", Collection("clientes"), Collection("clientes"), true},
		{"collection covers item", Collection("clientes"), Item("clientes", 3), true},
		{"item covers itself", Item("clientes", 3), Item("clientes", 3), true},
		{"item does not cover sibling", Item("clientes", 3), Item("clientes", 4), false},
		{"item does not cover collection", Item("clientes", 3), Collection("clientes"), false},
		{"other resource", Collection("clientes"), Item("pedidos", 3), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.Covers(tt.other))
		})
	}
	assert.Equal(t, "clientes/3", Item("clientes", 3).String())
	assert.Equal(t, "clientes", Collection("clientes").String())
}

func TestQueryServesFreshValueFromCache(t *testing.T) {
	// Arrange
	c, _ := newTestCache(t)
	f := &countingFetcher{value: []string{"Ana"}}
	ctx := context.Background()

	// Act
	first, err := Query(ctx, c, Collection("clientes"), f.fetch)
	require.NoError(t, err)
	second, err := Query(ctx, c, Collection("clientes"), f.fetch)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, []string{"Ana"}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestQueryRefetchesAfterStaleTime(t *testing.T) {
	// Arrange
	c, clock := newTestCache(t)
	f := &countingFetcher{value: []string{"Ana"}}
	ctx := context.Background()
	_, err := Query(ctx, c, Collection("clientes"), f.fetch)
	require.NoError(t, err)

	// Act
	clock.Advance(30 * time.Second)
	_, err = Query(ctx, c, Collection("clientes"), f.fetch)
	require.NoError(t, err)
	callsBeforeStale := f.calls.Load()

	clock.Advance(31 * time.Second)
	_, err = Query(ctx, c, Collection("clientes"), f.fetch)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, int32(1), callsBeforeStale)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestConcurrentReadersShareOneFetch(t *testing.T) {
	// Arrange
	c, _ := newTestCache(t)
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const readers = 10
	var wg sync.WaitGroup
	results := make([]int, readers)
	for i := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := Query(context.Background(), c, Item("pedidos", 7), fetch)
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	// Act
	require.Eventually(t, func() bool { return c.IsFetching(Item("pedidos", 7)) }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	// Assert
	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
	assert.False(t, c.IsFetching(Item("pedidos", 7)))
}

func TestQueryDoesNotCacheErrors(t *testing.T) {
	// Arrange
	c, _ := newTestCache(t)
	boom := errors.New("boom")
	var calls int
	fetch := func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}
		return "ok", nil
	}

	// Act
	_, firstErr := Query(context.Background(), c, Collection("bebidas"), fetch)
	v, secondErr := Query(context.Background(), c, Collection("bebidas"), fetch)

	// Assert
	assert.ErrorIs(t, firstErr, boom)
	require.NoError(t, secondErr)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestQueryCancelledByLastWaiterStopsFetch(t *testing.T) {
	// Arrange
	c, _ := newTestCache(t)
	fetchCancelled := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		close(fetchCancelled)
		return "", ctx.Err()
	}
	ctx, cancel := context.WithCancel(context.Background())

	// Act
	errCh := make(chan error, 1)
	go func() {
		_, err := Query(ctx, c, Collection("campi"), fetch)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return c.IsFetching(Collection("campi")) }, time.Second, time.Millisecond)
	cancel()

	// Assert
	assert.ErrorIs(t, <-errCh, context.Canceled)
	select {
	case <-fetchCancelled:
	case <-time.After(time.Second):
		t.Fatal("fetch was not cancelled")
	}
}

func TestInvalidateCollectionCoversItems(t *testing.T) {
	// Arrange
	c, _ := newTestCache(t)
	list := &countingFetcher{value: []string{"Ana", "Bia"}}
	item := &countingFetcher{value: []string{"Ana"}}
	ctx := context.Background()
	_, err := Query(ctx, c, Collection("clientes"), list.fetch)
	require.NoError(t, err)
	_, err = Query(ctx, c, Item("clientes", 1), item.fetch)
	require.NoError(t, err)

	// Act
	c.Invalidate(Collection("clientes"))
	_, err = Query(ctx, c, Collection("clientes"), list.fetch)
	require.NoError(t, err)
	_, err = Query(ctx, c, Item("clientes", 1), item.fetch)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, int32(2), list.calls.Load())
	assert.Equal(t, int32(2), item.calls.Load())
}

func TestInvalidateItemLeavesCollectionFresh(t *testing.T) {
	// Arrange
	c, _ := newTestCache(t)
	list := &countingFetcher{value: []string{"Ana"}}
	ctx := context.Background()
	_, err := Query(ctx, c, Collection("clientes"), list.fetch)
	require.NoError(t, err)

	// Act
	c.Invalidate(Item("clientes", 1))
	_, err = Query(ctx, c, Collection("clientes"), list.fetch)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, int32(1), list.calls.Load())
}

func TestFetchStartedBeforeInvalidationIsStoredStale(t *testing.T) {
	// Arrange
	c, _ := newTestCache(t)
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (int, error) {
		n := calls.Add(1)
		if n == 1 {
			<-release
		}
		return int(n), nil
	}

	done := make(chan int, 1)
	go func() {
		v, err := Query(context.Background(), c, Collection("pedidos"), fetch)
		assert.NoError(t, err)
		done <- v
	}()
	require.Eventually(t, func() bool { return c.IsFetching(Collection("pedidos")) }, time.Second, time.Millisecond)

	// Act
	c.Invalidate(Collection("pedidos"))
	close(release)
	first := <-done
	second, err := Query(context.Background(), c, Collection("pedidos"), fetch)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvalidateRefetchesOnceForManyWatchers(t *testing.T) {
	// Arrange
	c, _ := newTestCache(t)
	var calls atomic.Int32
	fetch := func(context.Context) (int32, error) {
		return calls.Add(1), nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const watchers = 5
	chans := make([]<-chan int32, 0, watchers)
	for range watchers {
		ch, err := Watch(ctx, c, Collection("entregas"), fetch)
		require.NoError(t, err)
		assert.Equal(t, int32(1), <-ch)
		chans = append(chans, ch)
	}

	// Act
	c.Invalidate(Collection("entregas"))

	// Assert
	for _, ch := range chans {
		require.Eventually(t, func() bool {
			select {
			case v := <-ch:
				return v == 2
			default:
				return false
			}
		}, time.Second, time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWatchDeliversInitialValueOnce(t *testing.T) {
	// Arrange
	c, _ := newTestCache(t)
	var calls atomic.Int32
	fetch := func(context.Context) (int32, error) {
		return calls.Add(1), nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Act
	ch, err := Watch(ctx, c, Collection("bebidas"), fetch)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, int32(1), <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected second value %d without invalidation", v)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatchRefetchesWhenInvalidatedDuringFirstFetch(t *testing.T) {
	// Arrange
	c, _ := newTestCache(t)
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) (int32, error) {
		n := calls.Add(1)
		if n == 1 {
			close(started)
			<-release
		}
		return n, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		ch  <-chan int32
		err error
	}
	done := make(chan result, 1)
	go func() {
		ch, err := Watch(ctx, c, Collection("pedidos"), fetch)
		done <- result{ch, err}
	}()
	<-started

	// Act
	c.Invalidate(Collection("pedidos"))
	close(release)

	// Assert
	res := <-done
	require.NoError(t, res.err)
	require.Eventually(t, func() bool {
		select {
		case v := <-res.ch:
			return v == 2
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWatchStopsWhenContextEnds(t *testing.T) {
	// Arrange
	c, _ := newTestCache(t)
	fetch := func(context.Context) (string, error) { return "x", nil }
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := Watch(ctx, c, Collection("cardapios"), fetch)
	require.NoError(t, err)

	// Act
	cancel()

	// Assert
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, time.Millisecond)
}

func TestSubscribeReceivesSetAndInvalidate(t *testing.T) {
	// Arrange
	c, _ := newTestCache(t)
	sub := c.Subscribe(Item("refeicoes", 2))
	defer sub.Close()

	// Act
	c.Set(Item("refeicoes", 2), "Feijoada")
	c.Invalidate(Collection("refeicoes"))

	// Assert
	set := <-sub.Updates()
	assert.Equal(t, "Feijoada", set.Value)
	assert.False(t, set.Invalidated)
	inv := <-sub.Updates()
	assert.True(t, inv.Invalidated)

	v, ok := Get[string](c, Item("refeicoes", 2))
	assert.True(t, ok)
	assert.Equal(t, "Feijoada", v)
}

func TestCloseEndsSubscriptionsAndRejectsQueries(t *testing.T) {
	// Arrange
	c := New(Options{})
	sub := c.Subscribe(Collection("blocos"))

	// Act
	c.Close()
	c.Close()
	_, err := Query(context.Background(), c, Collection("blocos"), func(context.Context) (int, error) { return 1, nil })

	// Assert
	assert.ErrorIs(t, err, ErrClosed)
	_, ok := <-sub.Updates()
	assert.False(t, ok)
	sub.Close()
}
