package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/license-panel/internal/logs"
	"github.com/iliyamo/license-panel/internal/repository"
)

// RetryPolicy bounds how often a unit of work is re-run after a transient
// storage failure.  Attempts counts the first run.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetry is used when Options.Retry is zero.
var DefaultRetry = RetryPolicy{Attempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	return d
}

// run calls fn until it succeeds, fails with a non-transient error or the
// attempts are used up.
func (p RetryPolicy) run(ctx context.Context, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !repository.IsTransient(err) {
			return err
		}
		if attempt >= attempts {
			break
		}
		wait := p.delay(attempt)
		logs.With("licensing").WithError(err).WithFields(logrus.Fields{
			"operation": op,
			"attempt":   attempt,
			"wait":      wait.String(),
		}).Warn("transient storage failure, retrying")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrTryAgainLater, op, attempts, err)
}
