// Package retry provides bounded retries with exponential backoff and condition polling.
package retry

import (
	"context"
	"errors"
	"time"
)

// Default backoff schedule: 500ms, 2.5s, 12.5s (capped at 15s).
const (
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultBackoffFactor  = 5
	DefaultMaxBackoff     = 15 * time.Second
)

// ErrTimeout is returned by Until when the condition never became true.
var ErrTimeout = errors.New("condition not met before timeout")

// Policy configures Do. A zero Policy makes exactly one attempt.
type Policy struct {
	Attempts int           `json:"attempts,omitempty" validate:"gte=0"`
	Initial  time.Duration `json:"initial,omitempty"`
	Max      time.Duration `json:"max,omitempty"`
	Factor   float64       `json:"factor,omitempty" validate:"gte=0"`
}

// Once is a policy that never retries.
var Once = Policy{Attempts: 1}

// Backoff returns the delay before attempt n (n >= 1 is the first retry).
func (p Policy) Backoff(n int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	factor := p.Factor
	if factor < 1 {
		factor = DefaultBackoffFactor
	}
	maxDelay := p.Max
	if maxDelay <= 0 {
		maxDelay = DefaultMaxBackoff
	}

	d := float64(initial)
	for i := 1; i < n; i++ {
		d *= factor
		if d >= float64(maxDelay) {
			return maxDelay
		}
	}
	if time.Duration(d) > maxDelay {
		return maxDelay
	}
	return time.Duration(d)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Do stops retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs fn until it succeeds, returns a permanent error, or the attempts are used up.
// The last error is returned unwrapped from its permanent marker.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if waitErr := sleep(ctx, p.Backoff(attempt)); waitErr != nil {
				return errors.Join(err, waitErr)
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// Until polls cond every interval until it returns true, returns an error, or
// timeout elapses.
func Until(ctx context.Context, timeout, interval time.Duration, cond func(ctx context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrTimeout
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
