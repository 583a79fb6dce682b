// Package retry provides bounded exponential-backoff retries for the
// outbound calls the pipeline makes to unreliable collaborators.
package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls retry behavior.
type Config struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // ceiling on any single delay
	Multiplier float64       // exponential growth factor
	Jitter     bool          // randomize delays to avoid thundering herds
}

// DefaultConfig returns sensible defaults for source-control API calls.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// AnalysisConfig returns defaults tuned for analysis-provider calls, which
// are slower and rate-limited more aggressively.
func AnalysisConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2.5,
		Jitter:     true,
	}
}

// Result describes how a retried operation went.
type Result struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
	Success       bool
}

// Do executes op with exponential backoff until it succeeds, retries are
// exhausted, or ctx is cancelled. Non-retryable errors fail immediately.
func Do(ctx context.Context, cfg Config, logger zerolog.Logger, op func() error) Result {
	start := time.Now()
	result := Result{}

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		err := op()
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(start)
			if attempt > 0 {
				logger.Debug().Int("attempts", result.Attempts).Dur("elapsed", result.TotalDuration).
					Msg("operation succeeded after retries")
			}
			return result
		}
		result.LastError = err

		if attempt >= cfg.MaxRetries || !IsRetryable(err) {
			result.TotalDuration = time.Since(start)
			logger.Warn().Err(err).Int("attempts", result.Attempts).
				Bool("retryable", IsRetryable(err)).Msg("operation failed")
			return result
		}

		delay := backoffDelay(cfg, attempt)
		logger.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).
			Msg("operation failed, retrying")

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result
		case <-time.After(delay):
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

func backoffDelay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		// Up to 10% in either direction.
		delay += (rand.Float64() - 0.5) * 2 * delay * 0.1
		if delay < 0 {
			delay = float64(cfg.BaseDelay)
		}
	}
	return time.Duration(delay)
}

// IsRetryable reports whether err looks transient. Classification is by
// message because errors cross process boundaries as HTTP status text.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"no such host",
		"network unreachable",
		"broken pipe",
		"context deadline exceeded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
