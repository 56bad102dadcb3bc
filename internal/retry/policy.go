// Package retry provides the bounded retry policy shared by the decoder's
// open path and the converter's record iteration.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted wraps the last error once every attempt has failed
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds the number of attempts and the pause between them. The
// pause before attempt n (n >= 2) is Backoff * 2^(n-2), capped at
// MaxBackoff when MaxBackoff > 0.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// Attempts returns the effective number of attempts (at least one)
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the pause before the given attempt number
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 2 || p.Backoff <= 0 {
		return 0
	}
	shift := attempt - 2
	if shift > 30 {
		shift = 30
	}
	d := p.Backoff * time.Duration(1<<uint(shift))
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Do runs op until it succeeds, returns an error retryable rejects, or the
// attempts run out. op receives the 1-based attempt number. A nil
// retryable retries every error.
func (p Policy) Do(ctx context.Context, op func(attempt int) error, retryable func(error) bool) error {
	var lastErr error
	attempts := p.Attempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, p.Delay(attempt)); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		err := op(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
