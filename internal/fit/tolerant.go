package fit

import (
	"context"
	"errors"
	"fmt"

	"github.com/ryabkov82/fit2gpx/internal/retry"
)

// DefaultOpenPolicy tries a CRC-verified open, then one open without CRC
var DefaultOpenPolicy = retry.Policy{MaxAttempts: 2}

// OpenTolerant opens path with CRC verification first and, when that fails
// with an integrity error, retries with WithoutCRC for the remaining
// attempts of policy. Any other failure is returned immediately. When every
// attempt fails the returned error carries the text of each attempt.
func OpenTolerant(ctx context.Context, path string, policy retry.Policy) (*Decoder, error) {
	var (
		dec      *Decoder
		attempts []error
	)

	err := policy.Do(ctx, func(attempt int) error {
		var opts []Option
		if attempt > 1 {
			opts = append(opts, WithoutCRC())
		}
		d, err := Open(path, opts...)
		if err != nil {
			attempts = append(attempts, fmt.Errorf("attempt %d (crc=%t): %w", attempt, attempt == 1, err))
			return err
		}
		dec = d
		return nil
	}, IsIntegrity)
	if err != nil {
		if len(attempts) > 1 {
			return nil, fmt.Errorf("open %s: %w", path, errors.Join(attempts...))
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return dec, nil
}
