package sdk

import (
	"math"
	"math/rand"
	"time"
)

// DefaultReconnectDelay is the pause between a socket failure and the next
// connection attempt when no strategy is configured.
const DefaultReconnectDelay = 250 * time.Millisecond

// ReconnectStrategy decides how long a Stream waits before reconnecting
// after a socket failure.
//
// The attempt parameter starts at 1 for the first reconnect after a
// successful open and resets to 1 every time a socket opens again.
//
// The SDK provides several built-in strategies:
//   - FixedIntervalStrategy: the same delay every time (default, 250ms)
//   - ExponentialBackoffStrategy: exponentially increasing delays with jitter
//   - ReconnectStrategyFunc: any function of the attempt number
//
// Example:
//
//	stream, _ := client.Stream(deploymentID,
//	    sdk.WithReconnectStrategy(sdk.ReconnectStrategyFunc(
//	        func(attempt int) time.Duration {
//	            return time.Duration(attempt) * time.Second
//	        },
//	    )),
//	)
type ReconnectStrategy interface {
	// NextInterval returns the delay before reconnect attempt number attempt.
	// Negative values are treated as zero.
	NextInterval(attempt int) time.Duration
}

// ReconnectStrategyFunc adapts a function to the ReconnectStrategy interface.
type ReconnectStrategyFunc func(attempt int) time.Duration

// NextInterval calls f
func (f ReconnectStrategyFunc) NextInterval(attempt int) time.Duration {
	return f(attempt)
}

// FixedIntervalStrategy waits the same interval before every reconnect.
type FixedIntervalStrategy struct {
	Interval time.Duration
}

// NewFixedIntervalStrategy returns a strategy that always waits interval.
func NewFixedIntervalStrategy(interval time.Duration) *FixedIntervalStrategy {
	return &FixedIntervalStrategy{Interval: interval}
}

// NextInterval returns the fixed interval
func (s *FixedIntervalStrategy) NextInterval(attempt int) time.Duration {
	return s.Interval
}

// ExponentialBackoffStrategy implements exponential backoff with jitter.
// Use it when a platform outage would otherwise produce a reconnect storm.
//
// The delay calculation is:
//
//	base = InitialInterval * (Multiplier ^ (attempt-1))
//	delay = min(base, MaxInterval) ± jitter
//
// Example:
//
//	strategy := &sdk.ExponentialBackoffStrategy{
//	    InitialInterval: 250 * time.Millisecond,
//	    MaxInterval:     30 * time.Second,
//	    Multiplier:      2.0,
//	    Jitter:          0.2,
//	}
type ExponentialBackoffStrategy struct {
	// InitialInterval is the delay before the first reconnect.
	InitialInterval time.Duration

	// MaxInterval caps the computed delay before jitter is applied.
	MaxInterval time.Duration

	// Multiplier is the exponential growth factor.
	Multiplier float64

	// Jitter is the randomization factor (0.0 to 1.0).
	// 0.3 means ±30% randomization of the calculated interval.
	Jitter float64
}

// DefaultExponentialBackoff returns an exponential backoff strategy with sensible defaults:
//   - InitialInterval: 250ms
//   - MaxInterval: 30s
//   - Multiplier: 2.0
//   - Jitter: 0.2
//
// This produces delays like: 250ms, 500ms, 1s, 2s, 4s ... 30s
// (with ±20% jitter applied to each)
func DefaultExponentialBackoff() *ExponentialBackoffStrategy {
	return &ExponentialBackoffStrategy{
		InitialInterval: DefaultReconnectDelay,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.2,
	}
}

// NextInterval calculates the next backoff interval
func (s *ExponentialBackoffStrategy) NextInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := s.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	interval := float64(s.InitialInterval) * math.Pow(multiplier, float64(attempt-1))
	if s.MaxInterval > 0 && interval > float64(s.MaxInterval) {
		interval = float64(s.MaxInterval)
	}

	if s.Jitter > 0 {
		jitter := interval * s.Jitter
		interval = interval - jitter + (rand.Float64() * 2 * jitter)
	}
	if interval < 0 {
		interval = 0
	}

	return time.Duration(interval)
}
