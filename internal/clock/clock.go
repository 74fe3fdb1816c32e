// Package clock abstracts time so that every wait in the recovery loop is
// scheduled, cancellable, and controllable from tests.
package clock

import (
	"context"
	"time"

	fbclock "github.com/facebookgo/clock"
)

// Clock is the subset of time functionality the orchestrator depends on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is backed by the wall clock.
type Real struct {
	c fbclock.Clock
}

// New returns a wall-clock Clock.
func New() *Real {
	return &Real{c: fbclock.New()}
}

// Now returns the current wall-clock time.
func (r *Real) Now() time.Time { return r.c.Now() }

// After waits for d and then sends the current time.
func (r *Real) After(d time.Duration) <-chan time.Time { return r.c.After(d) }

// Sleep blocks for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when the wait was interrupted.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}

var _ Clock = (*Real)(nil)
