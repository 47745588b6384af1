package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/blockcrawl/histsync/internal/logger"
	"github.com/blockcrawl/histsync/pkg/config"
)

// ErrBlockNotFound is returned by GetBlockByNumber when the provider has no
// block at the requested number.
var ErrBlockNotFound = errors.New("block not found")

// retryableError reports whether err is a transient RPC failure: network
// error, timeout, rate limiting, or a temporary server error.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"):
		return true
	case strings.Contains(errStr, "429"),
		strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "rate limit"):
		return true
	case strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"),
		strings.Contains(errStr, "504"),
		strings.Contains(errStr, "bad gateway"),
		strings.Contains(errStr, "service unavailable"),
		strings.Contains(errStr, "gateway timeout"):
		return true
	case strings.Contains(errStr, "connection pool"),
		strings.Contains(errStr, "no available connection"):
		return true
	default:
		return false
	}
}

// calculateBackoff computes the exponential backoff duration (with ±25%
// jitter) for a given attempt.
func calculateBackoff(attempt int, cfg config.RetryConfig) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))
	if maxBackoff := float64(cfg.MaxBackoff.Duration); backoff > maxBackoff {
		backoff = maxBackoff
	}

	jitterRange := backoff * 0.25
	backoff += (rand.Float64() * 2 * jitterRange) - jitterRange
	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// retryWithBackoff runs fn, retrying on retryableError up to cfg.MaxAttempts
// times with exponential backoff, honoring ctx cancellation at every step.
// Errors that are not transient fail immediately without retrying.
func retryWithBackoff(ctx context.Context, cfg config.RetryConfig, operation string, log *logger.Logger, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		return fn()
	}

	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d of %s: %w", attempt, operation, err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryableError(err) {
			return err
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		backoff := calculateBackoff(attempt, cfg)
		log.Debugw("retrying transient rpc error", "operation", operation, "attempt", attempt, "backoff", backoff, "error", err)

		if backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during backoff for %s (attempt %d/%d): %w", operation, attempt, cfg.MaxAttempts, ctx.Err())
			}
		}
	}

	return fmt.Errorf("all %d attempts of %s failed: %w", cfg.MaxAttempts, operation, lastErr)
}
