package paymob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Doer is the subset of *http.Client used by the gateway client
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryPolicy bounds the 429 backoff loop
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration // delay grows as BaseDelay * attempt
	MaxDelay   time.Duration
}

// DefaultRetryPolicy retries three times with min(8s, 2s * attempt) waits
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  2 * time.Second,
	MaxDelay:   8 * time.Second,
}

// RetryingClient retries requests answered with 429 Too Many Requests.
// Every other status, and transport errors, are returned on the first attempt.
// After MaxRetries retries the last 429 response is returned untouched.
type RetryingClient struct {
	client Doer
	policy RetryPolicy

	// sleep waits for d or until ctx is done
	sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each wait, if set
	OnRetry func(req *http.Request, attempt int, delay time.Duration)
}

// NewRetryingClient wraps client with the given policy
func NewRetryingClient(client Doer, policy RetryPolicy) *RetryingClient {
	if client == nil {
		client = http.DefaultClient
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &RetryingClient{
		client: client,
		policy: policy,
		sleep:  sleepContext,
	}
}

// Do sends req, replaying its body on every retry
func (c *RetryingClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to rewind request body: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt >= c.policy.MaxRetries {
			return resp, nil
		}

		delay := c.backoff(attempt+1, resp.Header.Get("Retry-After"))

		// Drain so the connection can be reused
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if c.OnRetry != nil {
			c.OnRetry(req, attempt+1, delay)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// backoff honors a Retry-After hint (seconds or HTTP date), else min(MaxDelay, BaseDelay * attempt)
func (c *RetryingClient) backoff(attempt int, retryAfter string) time.Duration {
	if d, ok := parseRetryAfter(retryAfter, time.Now()); ok {
		return d
	}
	delay := c.policy.BaseDelay * time.Duration(attempt)
	if c.policy.MaxDelay > 0 && delay > c.policy.MaxDelay {
		delay = c.policy.MaxDelay
	}
	return delay
}

func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
