package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config defines backoff behavior for startup-time connection attempts.
// Request-path code never retries; a failed dependency degrades instead.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultConfig is tuned for dialing local infrastructure.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Do runs fn until it succeeds, the attempts are exhausted, or the context is
// done. The last error is returned.
func Do(ctx context.Context, config *Config, fn func(ctx context.Context) error) error {
	if config == nil {
		config = DefaultConfig()
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == config.MaxAttempts-1 {
			break
		}

		if attempt > 0 {
			delay = time.Duration(float64(delay) * config.Multiplier)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		actualDelay := delay
		if config.Jitter {
			actualDelay = delay + time.Duration(rand.Float64()*float64(delay)*0.3)
		}

		select {
		case <-time.After(actualDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}
