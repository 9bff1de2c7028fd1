package client

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"e-router/message"
)

// RetryConfig controls how connection-level failures are retried.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NoRetry makes exactly one attempt. The router forwards with it: a failed
// forward is reported, and re-submission is the client harness's decision.
func NoRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 1}
}

// DefaultRetryConfig is used by the load harness.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2,
	}
}

func (cfg RetryConfig) backoff(attempt int) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if ceiling := float64(cfg.MaxDelay); ceiling > 0 && d > ceiling {
		d = ceiling
	}
	return time.Duration(d)
}

func withRetry(ctx context.Context, cfg RetryConfig, log zerolog.Logger, fn func() (*message.Message, error)) (*message.Message, error) {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		reply, err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().Int("attempt", attempt).Msg("call succeeded after retry")
			}
			return reply, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == attempts {
			break
		}

		delay := cfg.backoff(attempt)
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("call failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
