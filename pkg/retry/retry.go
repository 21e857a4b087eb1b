// Package retry runs an operation a bounded number of times with randomized
// exponential backoff between attempts.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/googleapis/gax-go/v2"
)

const (
	DefaultAttempts   = 3
	DefaultInitial    = time.Second
	DefaultMax        = 60 * time.Second
	DefaultMultiplier = 2.0
)

// Policy bounds a retried operation.
type Policy struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Retryable classifies errors. A nil Retryable retries every error.
	Retryable func(error) bool

	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Initial <= 0 {
		p.Initial = DefaultInitial
	}
	if p.Max <= 0 {
		p.Max = DefaultMax
	}
	if p.Multiplier <= 1 {
		p.Multiplier = DefaultMultiplier
	}
	return p
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The last error is returned wrapped with the
// number of attempts made.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	bo := gax.Backoff{
		Initial:    p.Initial,
		Max:        p.Max,
		Multiplier: p.Multiplier,
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt >= p.Attempts {
			return fmt.Errorf("after %d attempts: %w", attempt, err)
		}

		wait := bo.Pause()
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if sleepErr := gax.Sleep(ctx, wait); sleepErr != nil {
			return fmt.Errorf("retry interrupted after %d attempts: %w", attempt, err)
		}
	}
}
