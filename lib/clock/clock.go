package clock

import (
	"context"
	"time"
)

// Clock abstracts time so that lease and expiry logic can be tested without
// sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

// Real implements Clock using the standard library.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After mirrors time.After.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Sleep blocks for at least d.
func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}

// UnixMilli returns the clock's current time in milliseconds since the epoch,
// the resolution used for all persisted timestamps.
func UnixMilli(c Clock) int64 {
	return c.Now().UnixMilli()
}

// SleepContext waits for d on c or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}
