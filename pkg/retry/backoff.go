package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"yield-points-system/pkg/logger"
)

type Config struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterEnabled bool
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:    5,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}

// WithBackoff 以指数退避执行 fn，retryable 返回 false 时立即放弃
// MaxRetries 小于 1 时按 1 处理，fn 至少执行一次
func WithBackoff(ctx context.Context, cfg Config, operation string, retryable func(error) bool, fn func() error) error {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	var lastErr error

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"operation": operation,
					"attempts":  attempt,
				}).Info("Operation succeeded after retries")
			}
			return nil
		}

		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}

		if attempt == cfg.MaxRetries {
			return fmt.Errorf("%s failed after %d attempts: %w", operation, cfg.MaxRetries, lastErr)
		}

		delay := calculateBackoff(cfg, attempt)

		logger.WithFields(map[string]interface{}{
			"operation":   operation,
			"attempt":     attempt,
			"max_retries": cfg.MaxRetries,
			"retry_in":    delay,
			"error":       lastErr,
		}).Warn("Operation failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return lastErr
}

func calculateBackoff(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))

	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.JitterEnabled {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}
