package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }
func succeed(context.Context) error { return nil }

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		calls         []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{Threshold: 2},
			calls:         []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name:          "opens after consecutive failures",
			settings:      Settings{Threshold: 3, Cooldown: time.Minute},
			calls:         []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name:          "success resets the failure run",
			settings:      Settings{Threshold: 3},
			calls:         []bool{false, false, true, false, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("test", tt.settings)
			for _, ok := range tt.calls {
				fn := fail
				if ok {
					fn = succeed
				}
				_ = b.Do(context.Background(), fn)
			}
			assert.Equal(t, tt.expectedState, b.State())
		})
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := New("test", Settings{Threshold: 1, Cooldown: time.Minute})
	require.ErrorIs(t, b.Do(context.Background(), fail), errBoom)

	called := false
	err := b.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	now := time.Now()

	b := New("test", Settings{
		Threshold: 1,
		Cooldown:  time.Second,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	b.now = func() time.Time { return now }

	_ = b.Do(context.Background(), fail)
	assert.Equal(t, StateOpen, b.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(context.Background(), succeed))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	b := New("test", Settings{Threshold: 1})
	_ = b.Do(context.Background(), func(context.Context) error { return context.Canceled })
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIsFailure(t *testing.T) {
	notFound := errors.New("not found")
	b := New("test", Settings{
		Threshold: 1,
		IsFailure: func(err error) bool { return !errors.Is(err, notFound) },
	})
	_ = b.Do(context.Background(), func(context.Context) error { return notFound })
	assert.Equal(t, StateClosed, b.State())
}

func TestBackoffDelay(t *testing.T) {
	fixed := Fixed(500*time.Millisecond, 0)
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 500*time.Millisecond, fixed.Delay(attempt))
	}
	assert.False(t, fixed.Exhausted(1000))

	exp := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2, MaxAttempts: 3}
	assert.Equal(t, 100*time.Millisecond, exp.Delay(1))
	assert.Equal(t, 200*time.Millisecond, exp.Delay(2))
	assert.Equal(t, 400*time.Millisecond, exp.Delay(3))
	assert.Equal(t, time.Second, exp.Delay(10))
	assert.False(t, exp.Exhausted(3))
	assert.True(t, exp.Exhausted(4))
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	b := Exponential(100*time.Millisecond, time.Second, 0)
	for i := 0; i < 100; i++ {
		d := b.Delay(1)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestBackoffWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Fixed(time.Hour, 0).Wait(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
