// Package poll runs fixed-interval, fixed-attempt polling loops.
//
// The loops are deliberately not exponential: the exchange protocol bounds every
// wait by interval*attempts, and callers rely on that ceiling.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when every attempt ran without the condition holding.
var ErrExhausted = errors.New("poll: attempts exhausted")

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes one polling loop.
type Policy struct {
	Interval time.Duration
	Attempts int
	// Sleep defaults to a timer-based wait. Tests replace it to skip real delays.
	Sleep SleepFunc
}

// Default is 100 attempts spaced 100ms apart, roughly a 10s ceiling.
func Default() Policy {
	return Policy{Interval: 100 * time.Millisecond, Attempts: 100}
}

// CheckFunc reports whether the awaited condition holds. A non-nil error is
// treated as transient: it is remembered and the loop keeps going.
type CheckFunc func(ctx context.Context) (bool, error)

// Until sleeps one interval, then calls check, up to Attempts times.
// It returns nil as soon as check reports true. On exhaustion it returns
// ErrExhausted joined with the last transient error, if any.
func (p Policy) Until(ctx context.Context, check CheckFunc) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = TimerSleep
	}
	var lastErr error
	for i := 0; i < p.Attempts; i++ {
		if err := sleep(ctx, p.Interval); err != nil {
			return err
		}
		ok, err := check(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return nil
		}
	}
	if lastErr != nil {
		return errors.Join(ErrExhausted, lastErr)
	}
	return ErrExhausted
}

// TimerSleep waits on a timer and stops it early if ctx is cancelled.
func TimerSleep(ctx context.Context, d time.Duration) error {
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

// NoSleep returns immediately. It is meant for tests.
func NoSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }
