package sdk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedIntervalStrategy(t *testing.T) {
	strategy := NewFixedIntervalStrategy(250 * time.Millisecond)
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 250*time.Millisecond, strategy.NextInterval(attempt))
	}
}

func TestExponentialBackoffStrategy(t *testing.T) {
	t.Run("no jitter", func(t *testing.T) {
		strategy := &ExponentialBackoffStrategy{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2.0,
		}

		tests := []struct {
			attempt int
			want    time.Duration
		}{
			{0, 100 * time.Millisecond},
			{1, 100 * time.Millisecond},
			{2, 200 * time.Millisecond},
			{3, 400 * time.Millisecond},
			{4, 800 * time.Millisecond},
			{5, time.Second},
			{20, time.Second},
		}
		for _, tt := range tests {
			assert.Equal(t, tt.want, strategy.NextInterval(tt.attempt), "attempt %d", tt.attempt)
		}
	})

	t.Run("multiplier below one is flat", func(t *testing.T) {
		strategy := &ExponentialBackoffStrategy{InitialInterval: 50 * time.Millisecond, Multiplier: 0.5}
		assert.Equal(t, 50*time.Millisecond, strategy.NextInterval(4))
	})

	t.Run("jitter stays in bounds", func(t *testing.T) {
		strategy := &ExponentialBackoffStrategy{
			InitialInterval: time.Second,
			MaxInterval:     10 * time.Second,
			Multiplier:      2.0,
			Jitter:          0.2,
		}
		for i := 0; i < 200; i++ {
			got := strategy.NextInterval(2)
			assert.GreaterOrEqual(t, got, 1600*time.Millisecond)
			assert.LessOrEqual(t, got, 2400*time.Millisecond)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		strategy := DefaultExponentialBackoff()
		assert.Equal(t, DefaultReconnectDelay, strategy.InitialInterval)
		assert.Equal(t, 30*time.Second, strategy.MaxInterval)
		assert.LessOrEqual(t, strategy.NextInterval(100), 36*time.Second)
	})
}

func TestReconnectStrategyFunc(t *testing.T) {
	strategy := ReconnectStrategyFunc(func(attempt int) time.Duration {
		return time.Duration(attempt) * time.Second
	})
	assert.Equal(t, 3*time.Second, strategy.NextInterval(3))
}
