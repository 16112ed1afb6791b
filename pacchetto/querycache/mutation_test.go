package querycache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutationInvalidatesOnSuccess(t *testing.T) {
	// Arrange
	c, _ := newTestCache(t)
	list := &countingFetcher{value: []string{"Ana"}}
	ctx := context.Background()
	_, err := Query(ctx, c, Collection("clientes"), list.fetch)
	require.NoError(t, err)

	var succeeded string
	m := NewMutation(c, func(_ context.Context, nome string) (string, error) {
		return nome, nil
	}, MutateOptions[string]{
		Invalidates: []Key{Collection("clientes")},
		OnSuccess:   func(r string) { succeeded = r },
		OnError:     func(error) { t.Fatal("unexpected error") },
	})

	// Act
	res, err := m.Mutate(ctx, "Bia")
	require.NoError(t, err)
	_, err = Query(ctx, c, Collection("clientes"), list.fetch)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, "Bia", res)
	assert.Equal(t, "Bia", succeeded)
	assert.Equal(t, int32(2), list.calls.Load())
	assert.False(t, m.IsPending())
}

func TestMutationErrorLeavesCacheUntouched(t *testing.T) {
	// Arrange
	c, _ := newTestCache(t)
	list := &countingFetcher{value: []string{"Ana"}}
	ctx := context.Background()
	_, err := Query(ctx, c, Collection("clientes"), list.fetch)
	require.NoError(t, err)

	boom := errors.New("boom")
	var reported error

	// Act
	_, err = Mutate(ctx, c, func(context.Context, int) (struct{}, error) {
		return struct{}{}, boom
	}, 1, MutateOptions[struct{}]{
		Invalidates: []Key{Collection("clientes")},
		OnSuccess:   func(struct{}) { t.Fatal("unexpected success") },
		OnError:     func(err error) { reported = err },
	})
	_, qerr := Query(ctx, c, Collection("clientes"), list.fetch)

	// Assert
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, reported, boom)
	require.NoError(t, qerr)
	assert.Equal(t, int32(1), list.calls.Load())
}

func TestMutationIsPendingWhileRunning(t *testing.T) {
	// Arrange
	c, _ := newTestCache(t)
	started := make(chan struct{})
	release := make(chan struct{})
	m := NewMutation(c, func(context.Context, int) (int, error) {
		close(started)
		<-release
		return 1, nil
	}, MutateOptions[int]{})

	// Act
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Mutate(context.Background(), 1)
	}()
	<-started
	pending := m.IsPending()
	close(release)
	<-done

	// Assert
	assert.True(t, pending)
	assert.False(t, m.IsPending())
}
