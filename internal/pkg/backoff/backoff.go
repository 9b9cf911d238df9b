// Package backoff retries startup calls against dependencies that may not be
// reachable yet, e.g. a database container still booting.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

var Default = Policy{Attempts: 6, Initial: 250 * time.Millisecond, Max: 5 * time.Second}

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Do calls f until it returns nil, a Permanent error, or the attempts run out.
// Waits double from Initial up to Max with jitter in [d/2, d].
func Do(ctx context.Context, p Policy, f func(ctx context.Context, attempt int) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	delay := p.Initial
	for attempt := 0; attempt < p.Attempts; attempt++ {
		err := f(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == p.Attempts-1 {
			return fmt.Errorf("failed after %d attempts: %w", p.Attempts, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(delay)):
		}
		delay *= 2
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
	return nil
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int64N(int64(d/2)+1))
}
