package shopify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Retrier applies the retry policy for marketplace calls: 429 responses honor
// the Retry-After hint (capped), 5xx and transport errors back off
// exponentially, and everything else is returned to the caller untouched.
//
// A Retrier is an explicit value owned by one client instance; its state never
// leaks across unrelated invocations.
type Retrier struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff for 5xx and transport errors.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff sleep.
	MaxDelay time.Duration
	// RetryAfterCap caps how long a Retry-After hint is honored.
	RetryAfterCap time.Duration

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a Retrier from the client configuration.
func NewRetrier(cfg Config) *Retrier {
	attempts := cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	return &Retrier{
		MaxAttempts:   attempts,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		RetryAfterCap: cfg.RetryAfterCap(),
		sleep:         sleepCtx,
	}
}

// Do runs attempt until it yields a non-retryable outcome or attempts are
// exhausted. The returned response may carry any status the policy considers
// non-retryable (2xx, or 4xx other than 429); the caller maps those.
func (r *Retrier) Do(ctx context.Context, attempt func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for i := 0; i < r.MaxAttempts; i++ {
		resp, err := attempt(ctx)
		if err != nil {
			// Transport-level failure.
			lastErr = err
			if serr := sleep(ctx, r.backoff(i)); serr != nil {
				return nil, serr
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := r.retryAfter(resp)
			drain(resp)
			lastErr = &RateLimitedError{RetryAfter: wait}
			if serr := sleep(ctx, wait); serr != nil {
				return nil, serr
			}
		case resp.StatusCode >= 500:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			drain(resp)
			lastErr = &APIError{Status: resp.StatusCode, Body: string(body)}
			if serr := sleep(ctx, r.backoff(i)); serr != nil {
				return nil, serr
			}
		default:
			return resp, nil
		}
	}

	return nil, fmt.Errorf("retries exhausted after %d attempts: %w", r.MaxAttempts, lastErr)
}

// backoff returns the exponential delay for the given attempt index.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := r.BaseDelay << uint(attempt)
	if d > r.MaxDelay || d <= 0 {
		d = r.MaxDelay
	}
	return d
}

// retryAfter reads the Retry-After hint, falling back to the base delay when
// absent or unparsable, and never exceeding the configured cap.
func (r *Retrier) retryAfter(resp *http.Response) time.Duration {
	wait := r.BaseDelay
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			wait = time.Duration(secs * float64(time.Second))
		}
	}
	if wait > r.RetryAfterCap {
		wait = r.RetryAfterCap
	}
	return wait
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
