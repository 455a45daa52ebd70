package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how often and how long a backend call is attempted.
// The zero value makes a single attempt with no per-attempt timeout.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Timeout bounds each individual attempt.
	Timeout time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NoRetry makes exactly one attempt and never sleeps.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// WithSleep returns a copy of the policy that waits with fn instead of a timer.
func (p RetryPolicy) WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryPolicy {
	p.sleep = fn
	return p
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Do stops retrying immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}

// Do runs fn until it succeeds, returns a Permanent error, the attempts are
// exhausted, or ctx is done. The last error is returned wrapped.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := p.wait(ctx, p.backoff(attempt)); err != nil {
				return fmt.Errorf("llm: retry aborted after %d attempts: %w", attempt, errors.Join(lastErr, err))
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = p.attempt(ctx, fn)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
	}
	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("llm: giving up after %d attempts: %w", attempts, lastErr)
}

func (p RetryPolicy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return fn(attemptCtx)
}

// backoff grows exponentially from BaseDelay with up to 50% jitter, capped at MaxDelay.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay << (attempt - 1)
	if delay <= 0 || (p.MaxDelay > 0 && delay > p.MaxDelay) {
		delay = p.MaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(delay/2) + 1))
	delay += jitter
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func (p RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
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

// RetryingClient applies a RetryPolicy to every Complete call.
type RetryingClient struct {
	next   Client
	policy RetryPolicy
}

func NewRetryingClient(next Client, policy RetryPolicy) *RetryingClient {
	if next == nil {
		panic("llm: client cannot be nil")
	}
	return &RetryingClient{next: next, policy: policy}
}

func (c *RetryingClient) Complete(ctx context.Context, req Request) (Response, error) {
	var resp Response
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.next.Complete(ctx, req)
		return err
	})
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

// RetryingEmbedder applies a RetryPolicy to every Embed call.
type RetryingEmbedder struct {
	next   Embedder
	policy RetryPolicy
}

func NewRetryingEmbedder(next Embedder, policy RetryPolicy) *RetryingEmbedder {
	if next == nil {
		panic("llm: embedder cannot be nil")
	}
	return &RetryingEmbedder{next: next, policy: policy}
}

func (e *RetryingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.next.Embed(ctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
