package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taldoflemis/campusdarpio/pacchetto"
	"github.com/taldoflemis/campusdarpio/pacchetto/transport"
)

var errConnRefused = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

func fixed(interval time.Duration) Policy {
	p := Legacy()
	p.InitialInterval = interval
	return p
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	// Arrange
	const failures = 3
	interval := 20 * time.Millisecond
	var attempts []time.Time
	op := func(context.Context) (string, error) {
		attempts = append(attempts, time.Now())
		if len(attempts) <= failures {
			return "", errConnRefused
		}
		return "ok", nil
	}

	// Act
	got, err := Do(context.Background(), "test", fixed(interval), op)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	require.Len(t, attempts, failures+1)
	for i := 1; i < len(attempts); i++ {
		gap := attempts[i].Sub(attempts[i-1])
		assert.GreaterOrEqual(t, gap, interval, "gap %d", i)
		assert.Less(t, gap, 10*interval, "gap %d", i)
	}
}

func TestLegacyRetriesClientErrorsUntilCancelled(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	calls := 0
	op := func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, &transport.StatusError{StatusCode: http.StatusBadRequest}
	}

	// Act
	_, err := Do(ctx, "legacy", fixed(10*time.Millisecond), op)

	// Assert
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, calls, 2)
}

func TestBoundedSurfacesClientErrorImmediately(t *testing.T) {
	// Arrange
	p := Bounded()
	p.InitialInterval = time.Millisecond
	calls := 0
	op := func(context.Context) (int, error) {
		calls++
		return 0, &transport.StatusError{StatusCode: http.StatusUnprocessableEntity}
	}

	// Act
	_, err := Do(context.Background(), "bounded", p, op)

	// Assert
	var statusErr *transport.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestBoundedExhaustsBudget(t *testing.T) {
	// Arrange
	p := Bounded()
	p.MaxAttempts = 3
	p.InitialInterval = time.Millisecond
	p.MaxInterval = 5 * time.Millisecond
	calls := 0
	op := func(context.Context) (int, error) {
		calls++
		return 0, &transport.StatusError{StatusCode: http.StatusServiceUnavailable}
	}

	// Act
	_, err := Do(context.Background(), "bounded", p, op)

	// Assert
	assert.ErrorIs(t, err, ErrExhausted)
	var statusErr *transport.StatusError
	assert.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 3, calls)
}

func TestDoStopsWhenContextCancelledMidWait(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	op := func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errConnRefused
	}

	// Act
	_, err := Do(ctx, "cancel", fixed(time.Hour), op)

	// Assert
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

type permanentErr struct{}

func (permanentErr) Error() string   { return "invalid payload" }
func (permanentErr) Permanent() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "connection refused", err: fmt.Errorf("GET /Cliente: %w", errConnRefused), want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "caller cancelled", err: context.Canceled, want: false},
		{name: "server error", err: &transport.StatusError{StatusCode: 502}, want: true},
		{name: "too many requests", err: &transport.StatusError{StatusCode: 429}, want: true},
		{name: "not found", err: &transport.StatusError{StatusCode: 404}, want: false},
		{name: "bad request", err: &transport.StatusError{StatusCode: 400}, want: false},
		{name: "local validation", err: permanentErr{}, want: false},
		{name: "decode", err: errors.New("decode GET /Bebida response: unexpected EOF"), want: false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransient(tt.err), tt.name)
	}
}

func TestAlwaysHonoursPermanent(t *testing.T) {
	assert.True(t, Always(&transport.StatusError{StatusCode: 400}))
	assert.False(t, Always(permanentErr{}))
}

func TestFromSettings(t *testing.T) {
	// Act
	legacy := FromSettings(pacchetto.RetrySettings{Mode: pacchetto.RetryModeLegacy, MaxAttempts: 3, InitialIntervalInMilli: 1000})
	bounded := FromSettings(pacchetto.RetrySettings{
		Mode:                   pacchetto.RetryModeBounded,
		MaxAttempts:            4,
		InitialIntervalInMilli: 250,
		Multiplier:             3,
		MaxIntervalInMilli:     2000,
	})

	// Assert
	assert.Zero(t, legacy.MaxAttempts)
	assert.Equal(t, time.Second, legacy.InitialInterval)
	assert.True(t, legacy.Retryable(&transport.StatusError{StatusCode: 400}))

	assert.Equal(t, uint(4), bounded.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, bounded.InitialInterval)
	assert.Equal(t, 3.0, bounded.Multiplier)
	assert.Equal(t, 2*time.Second, bounded.MaxInterval)
	assert.False(t, bounded.Retryable(&transport.StatusError{StatusCode: 400}))
}
