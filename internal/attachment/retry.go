package attachment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

const maxRetries = 3

// backoff returns the wait before retry attempt n (n >= 1): quadratic with
// up to 50% jitter.
var backoff = func(n int) time.Duration {
	base := time.Duration(n*n) * time.Second
	return base + time.Duration(rand.Int63n(int64(base/2+1)))
}

// statusError is a non-success HTTP response.
type statusError struct {
	status string
	code   int
}

func (e *statusError) Error() string {
	return "unexpected status " + e.status
}

func retryable(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// getWithRetry issues a GET, retrying network failures, 5xx and 429 with
// backoff. Any other non-200 response fails immediately.
func getWithRetry(ctx context.Context, client *http.Client, url string, logger *slog.Logger) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt)
			logger.Warn("retrying attachment download", "attempt", attempt+1, "backoff", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		lastErr = &statusError{status: resp.Status, code: resp.StatusCode}
		if !retryable(resp.StatusCode) {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("giving up after %d retries: %w", maxRetries, lastErr)
}
