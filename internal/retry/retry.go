// Package retry implements bounded exponential backoff, used by the peer
// control loop's tracker-reconnect path (spec.md §10's "Retry/backoff"
// ambient concern — the original spec has no retry semantics of its own;
// this generalizes the teacher's announce-retry loop for tracker session
// establishment instead of BitTorrent tracker announces).
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Operation is a unit of work that may fail and be retried.
type Operation func(ctx context.Context) error

type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	OnRetry      func(attempt int, err error, nextDelay time.Duration)
}

type Option func(*Config)

func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  0, // 0 = retry forever
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

func WithMaxAttempts(n int) Option { return func(c *Config) { c.MaxAttempts = n } }
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) { c.InitialDelay = d }
}
func WithMaxDelay(d time.Duration) Option { return func(c *Config) { c.MaxDelay = d } }
func WithOnRetry(f func(attempt int, err error, nextDelay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = f }
}

// Do runs op, retrying with exponential backoff until it succeeds, attempts
// are exhausted (MaxAttempts>0), or ctx is cancelled.
func Do(ctx context.Context, op Operation, opts ...Option) error {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	var lastErr error

	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry: context cancelled before attempt %d: %w", attempt, err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if cfg.MaxAttempts != 0 && attempt == cfg.MaxAttempts {
			break
		}

		delay := calculateDelay(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry: context cancelled during backoff: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry: attempts exhausted: %w", lastErr)
}

func calculateDelay(attempt int, cfg *Config) time.Duration {
	delay := min(
		float64(cfg.MaxDelay),
		float64(cfg.InitialDelay)*math.Pow(cfg.Multiplier, float64(attempt-1)),
	)
	return time.Duration(delay)
}
