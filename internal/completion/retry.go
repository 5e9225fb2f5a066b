package completion

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy controls WithRetry. MaxRetries is the number of extra attempts.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// DefaultInitialBackoff is used when a policy leaves InitialBackoff zero.
const DefaultInitialBackoff = 1 * time.Second

type retrying struct {
	next   Client
	policy RetryPolicy
}

// WithRetry wraps next so that rate-limit and network failures are retried with
// exponential backoff. It is a caller policy: backends never retry on their own.
// A policy with MaxRetries <= 0 returns next unchanged.
func WithRetry(next Client, policy RetryPolicy) Client {
	if policy.MaxRetries <= 0 {
		return next
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = DefaultInitialBackoff
	}
	return &retrying{next: next, policy: policy}
}

func (r *retrying) Complete(ctx context.Context, req Request) Result {
	var res Result
	for i := 0; ; i++ {
		res = r.next.Complete(ctx, req)
		if res.OK() || !retryableByPolicy(res.Failure) || i >= r.policy.MaxRetries {
			return res
		}

		if !r.backoff(ctx, i, res.Failure) {
			return res
		}
	}
}

// Stream is only retried before the first delta has been delivered.
func (r *retrying) Stream(ctx context.Context, req Request, onDelta func(string)) Result {
	s, ok := r.next.(Streamer)
	if !ok {
		res := r.Complete(ctx, req)
		if res.OK() && onDelta != nil && res.Text != "" {
			onDelta(res.Text)
		}
		return res
	}

	var res Result
	for i := 0; ; i++ {
		delivered := false
		res = s.Stream(ctx, req, func(d string) {
			delivered = true
			if onDelta != nil {
				onDelta(d)
			}
		})
		if res.OK() || delivered || !retryableByPolicy(res.Failure) || i >= r.policy.MaxRetries {
			return res
		}

		if !r.backoff(ctx, i, res.Failure) {
			return res
		}
	}
}

// backoff waits out the exponential delay after a failed attempt. It reports
// false when ctx ends first.
func (r *retrying) backoff(ctx context.Context, attempt int, f *Failure) bool {
	delay := r.policy.InitialBackoff * time.Duration(math.Pow(2, float64(attempt)))
	zerolog.Ctx(ctx).Warn().Err(f).Int("attempt", attempt+1).Dur("backoff", delay).Msg("Completion failed, retrying")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func retryableByPolicy(f *Failure) bool {
	return f != nil && (f.Kind == KindRateLimit || f.Kind == KindNetwork)
}
