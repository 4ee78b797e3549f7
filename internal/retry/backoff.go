package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// BackoffConfig contains configuration for retry delays. A Multiplier of 1
// without jitter gives a fixed delay between attempts.
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	MaxAttempts  int           `json:"max_attempts"`
	Jitter       bool          `json:"jitter"`
}

// DefaultBackoffConfig returns an exponential configuration for REST retries
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// FixedBackoffConfig returns a configuration that waits delay between each of attempts tries
func FixedBackoffConfig(delay time.Duration, attempts int) BackoffConfig {
	return BackoffConfig{
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1.0,
		MaxAttempts:  attempts,
	}
}

// Backoff runs an operation until it succeeds or attempts run out
type Backoff struct {
	config  BackoffConfig
	onRetry func(attempt int, delay time.Duration, err error)
}

func NewBackoff(config BackoffConfig) *Backoff {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &Backoff{
		config: config,
	}
}

// OnRetry registers a hook called before each wait, with the attempt that just failed
func (b *Backoff) OnRetry(fn func(attempt int, delay time.Duration, err error)) *Backoff {
	b.onRetry = fn
	return b
}

// MaxAttempts returns the configured attempt bound
func (b *Backoff) MaxAttempts() int {
	return b.config.MaxAttempts
}

// Retry executes the operation until it succeeds, attempts are exhausted or ctx ends
func (b *Backoff) Retry(ctx context.Context, operation func(attempt int) error) error {
	return b.RetryWithPredicate(ctx, operation, func(error) bool { return true })
}

// RetryWithPredicate stops early when isRetryable reports false for an error
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func(attempt int) error, isRetryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if attempt == b.config.MaxAttempts {
			break
		}

		delay := b.calculateDelay(attempt)
		if b.onRetry != nil {
			b.onRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

func (b *Backoff) calculateDelay(attempt int) time.Duration {
	delay := float64(b.config.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= b.config.Multiplier
	}

	if b.config.MaxDelay > 0 && delay > float64(b.config.MaxDelay) {
		delay = float64(b.config.MaxDelay)
	}

	// ±25% jitter
	if b.config.Jitter {
		jitter := delay * 0.25
		delay += (secureFloat64() - 0.5) * 2 * jitter

		if delay < 0 {
			delay = float64(b.config.InitialDelay)
		}
		if b.config.MaxDelay > 0 && delay > float64(b.config.MaxDelay) {
			delay = float64(b.config.MaxDelay)
		}
	}

	return time.Duration(delay)
}

// secureFloat64 returns a value in [0, 1) from crypto/rand
func secureFloat64() float64 {
	max := big.NewInt(0).SetUint64(math.MaxUint64)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return float64(time.Now().UnixNano()%1000000) / 1000000.0
	}
	return float64(n.Uint64()) / float64(math.MaxUint64)
}
