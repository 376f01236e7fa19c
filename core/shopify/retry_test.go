package shopify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubResponse(status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func testRetrier(maxAttempts int) (*Retrier, *[]time.Duration) {
	slept := &[]time.Duration{}
	r := &Retrier{
		MaxAttempts:   maxAttempts,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      time.Second,
		RetryAfterCap: 5 * time.Second,
		sleep: func(ctx context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return nil
		},
	}
	return r, slept
}

func TestRetrierDo(t *testing.T) {
	t.Run("SuccessFirstAttempt", func(t *testing.T) {
		r, slept := testRetrier(3)

		calls := 0
		resp, err := r.Do(context.Background(), func(ctx context.Context) (*http.Response, error) {
			calls++
			return stubResponse(200, nil, `{}`), nil
		})

		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, 1, calls)
		assert.Empty(t, *slept)
	})

	t.Run("RetriesServerErrors", func(t *testing.T) {
		r, slept := testRetrier(3)

		calls := 0
		resp, err := r.Do(context.Background(), func(ctx context.Context) (*http.Response, error) {
			calls++
			if calls < 3 {
				return stubResponse(503, nil, "unavailable"), nil
			}
			return stubResponse(200, nil, `{}`), nil
		})

		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, 3, calls)
		// Exponential backoff between failed attempts.
		require.Len(t, *slept, 2)
		assert.Equal(t, 100*time.Millisecond, (*slept)[0])
		assert.Equal(t, 200*time.Millisecond, (*slept)[1])
	})

	t.Run("HonorsRetryAfter", func(t *testing.T) {
		r, slept := testRetrier(2)

		calls := 0
		resp, err := r.Do(context.Background(), func(ctx context.Context) (*http.Response, error) {
			calls++
			if calls == 1 {
				h := http.Header{}
				h.Set("Retry-After", "2")
				return stubResponse(429, h, ""), nil
			}
			return stubResponse(200, nil, `{}`), nil
		})

		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		require.Len(t, *slept, 1)
		assert.Equal(t, 2*time.Second, (*slept)[0])
	})

	t.Run("CapsRetryAfter", func(t *testing.T) {
		r, slept := testRetrier(2)

		calls := 0
		_, err := r.Do(context.Background(), func(ctx context.Context) (*http.Response, error) {
			calls++
			h := http.Header{}
			h.Set("Retry-After", "3600")
			return stubResponse(429, h, ""), nil
		})

		require.Error(t, err)
		for _, d := range *slept {
			assert.LessOrEqual(t, d, 5*time.Second)
		}
	})

	t.Run("ExhaustedRateLimitSurfacesRateLimitedError", func(t *testing.T) {
		r, _ := testRetrier(2)

		_, err := r.Do(context.Background(), func(ctx context.Context) (*http.Response, error) {
			return stubResponse(429, nil, ""), nil
		})

		require.Error(t, err)
		var rl *RateLimitedError
		assert.True(t, errors.As(err, &rl))
	})

	t.Run("ClientErrorsAreNotRetried", func(t *testing.T) {
		r, slept := testRetrier(3)

		calls := 0
		resp, err := r.Do(context.Background(), func(ctx context.Context) (*http.Response, error) {
			calls++
			return stubResponse(422, nil, `{"errors":"invalid"}`), nil
		})

		require.NoError(t, err)
		assert.Equal(t, 422, resp.StatusCode)
		assert.Equal(t, 1, calls)
		assert.Empty(t, *slept)
	})

	t.Run("TransportErrorsAreRetried", func(t *testing.T) {
		r, _ := testRetrier(3)

		calls := 0
		resp, err := r.Do(context.Background(), func(ctx context.Context) (*http.Response, error) {
			calls++
			if calls < 2 {
				return nil, errors.New("connection reset")
			}
			return stubResponse(200, nil, `{}`), nil
		})

		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, 2, calls)
	})
}

func TestAPIErrorTerminal(t *testing.T) {
	assert.True(t, (&APIError{Status: 404}).Terminal())
	assert.True(t, (&APIError{Status: 422}).Terminal())
	assert.False(t, (&APIError{Status: 429}).Terminal())
	assert.False(t, (&APIError{Status: 500}).Terminal())
}
