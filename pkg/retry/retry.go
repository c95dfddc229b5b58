// Package retry repeats an operation with capped exponential backoff. It backs
// the database connect loop and the per-year postponement transactions.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// marked carries the caller's verdict on an error through the operation.
type marked struct {
	err   error
	again bool
}

func (m *marked) Error() string { return m.err.Error() }
func (m *marked) Unwrap() error { return m.err }

// Retryable marks err as transient. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, again: true}
}

// Permanent marks err as final: it stops the loop even when the policy's
// ShouldRetry would accept it. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err}
}

// verdict reports whether err carries a mark and which one.
func verdict(err error) (again, found bool) {
	var m *marked
	if errors.As(err, &m) {
		return m.again, true
	}
	return false, false
}

// strip removes a mark so callers see the operation's own error.
func strip(err error) error {
	if m, ok := err.(*marked); ok {
		return m.err
	}
	return err
}

// Policy bounds a retry loop.
type Policy struct {
	Attempts int           // total runs, the first included
	Base     time.Duration // wait after the first failure
	Cap      time.Duration // upper bound for any single wait
	Jitter   float64       // fraction of the wait randomized in both directions

	// ShouldRetry classifies unmarked errors. Nil retries only errors marked
	// with Retryable.
	ShouldRetry func(error) bool
}

// wait returns the pause after the given failed attempt, counting from 1.
func (p Policy) wait(attempt int) time.Duration {
	d := p.Base
	for i := 1; i < attempt && d < p.Cap; i++ {
		d *= 2
	}
	if d > p.Cap {
		d = p.Cap
	}
	if p.Jitter > 0 {
		d += time.Duration(float64(d) * p.Jitter * (2*rand.Float64() - 1))
	}
	return max(d, 0)
}

func (p Policy) retries(err error) bool {
	if again, found := verdict(err); found {
		return again
	}
	return p.ShouldRetry != nil && p.ShouldRetry(err)
}

// Retrier runs operations under a Policy.
type Retrier struct {
	policy Policy
}

// New creates a Retrier. At least one attempt is always made.
func New(p Policy) *Retrier {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	return &Retrier{policy: p}
}

// Do runs op until it succeeds, returns an error the policy does not retry,
// runs out of attempts or ctx ends. The returned error has its mark removed.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return strip(last)
			}
			return err
		}

		last = op(ctx)
		if last == nil {
			return nil
		}
		if attempt >= r.policy.Attempts || !r.policy.retries(last) {
			return strip(last)
		}

		timer := time.NewTimer(r.policy.wait(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return strip(last)
		case <-timer.C:
		}
	}
}

// DatabaseRetrier waits up to a few seconds for the database to accept
// connections.
func DatabaseRetrier() *Retrier {
	return New(Policy{
		Attempts: 5,
		Base:     200 * time.Millisecond,
		Cap:      5 * time.Second,
		Jitter:   0.05,
	})
}

// TransactionRetrier re-runs short transactions that may lose a write race.
// shouldRetry decides which errors are transient.
func TransactionRetrier(shouldRetry func(error) bool) *Retrier {
	return New(Policy{
		Attempts:    3,
		Base:        20 * time.Millisecond,
		Cap:         500 * time.Millisecond,
		Jitter:      0.2,
		ShouldRetry: shouldRetry,
	})
}
