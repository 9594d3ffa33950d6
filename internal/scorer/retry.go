package scorer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/danielpatrickdp/ablation-harness/internal/errs"
)

// #region policy
// RetryPolicy is the caller's retry policy for scorer calls. Gate evaluation
// and ledger appends are never retried.
type RetryPolicy struct {
	MaxRetries int           // retries after the first attempt
	Backoff    time.Duration // wait before retry n is n*Backoff
}

// DefaultRetryPolicy returns 2 retries (3 attempts) with a short linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Backoff: 200 * time.Millisecond}
}

// Attempt records one scorer call.
type Attempt struct {
	Err error
}

// ShouldRetry reports whether another attempt is allowed after attempts.
// A missing metric is an answer, not a transient failure, and is not retried.
func (p RetryPolicy) ShouldRetry(attempts []Attempt) bool {
	if len(attempts) == 0 {
		return false
	}
	if len(attempts) > p.MaxRetries {
		return false
	}
	latest := attempts[len(attempts)-1]
	if latest.Err == nil {
		return false
	}
	if errors.Is(latest.Err, errs.ErrMissingMetric) ||
		errors.Is(latest.Err, context.Canceled) ||
		errors.Is(latest.Err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// #endregion policy

// #region retrying
// Retrying wraps a Scorer with a RetryPolicy.
type Retrying struct {
	inner  Scorer
	policy RetryPolicy
	log    *slog.Logger
}

// NewRetrying wraps inner.
func NewRetrying(inner Scorer, policy RetryPolicy, log *slog.Logger) *Retrying {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Retrying{inner: inner, policy: policy, log: log}
}

// Score calls the inner scorer until it succeeds or the policy gives up.
func (r *Retrying) Score(ctx context.Context, cond Condition, seed int64) (float64, error) {
	var attempts []Attempt
	for {
		v, err := r.inner.Score(ctx, cond, seed)
		attempts = append(attempts, Attempt{Err: err})
		if !r.policy.ShouldRetry(attempts) {
			return v, err
		}
		r.log.Info("retrying scorer", "condition", cond, "attempt", len(attempts), "error", err)
		wait := time.Duration(len(attempts)) * r.policy.Backoff
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// #endregion retrying
