// Package retry runs an operation a bounded number of times with linear backoff.
package retry

import (
	"context"
	"time"

	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// Policy bounds the retry loop.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultPolicy is three attempts, 100ms apart and growing linearly.
var DefaultPolicy = Policy{Attempts: 3, BaseDelay: 100 * time.Millisecond}

// Do invokes fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. The wait before attempt n is BaseDelay*n.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !apperrors.IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(p.BaseDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return apperrors.NewUnavailable("operation deadline exceeded", ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
