package llm

import (
	"context"
	"strings"
	"time"
)

// RetryConfig controls provider-side retries of rate-limited or 5xx calls.
// MaxRetries of zero disables retries.
type RetryConfig struct {
	MaxRetries  int
	InitBackoff time.Duration
	MaxBackoff  time.Duration
}

const (
	defaultInitBackoff = time.Second
	defaultMaxBackoff  = 30 * time.Second
	backoffFactor      = 2.0
)

// do runs call, retrying retryable failures with exponential backoff.
func (rc RetryConfig) do(ctx context.Context, call func() (string, error)) (string, error) {
	backoff := rc.InitBackoff
	if backoff <= 0 {
		backoff = defaultInitBackoff
	}
	maxBackoff := rc.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	var lastErr error
	for attempt := 0; attempt <= rc.MaxRetries; attempt++ {
		out, err := call()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryableError(err) || attempt == rc.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return "", lastErr
}

func isRateLimitError(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "overloaded")
}

func isServerError(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "service unavailable")
}

func isRetryableError(err error) bool {
	return err != nil && (isRateLimitError(err) || isServerError(err))
}
