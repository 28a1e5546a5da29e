package pacing

import (
	"context"
	"time"
)

// DefaultStep bounds how long a pause or delete can go unnoticed during a wait.
const DefaultStep = 500 * time.Millisecond

// AliveFunc reports whether the work a wait belongs to may continue.
type AliveFunc func(ctx context.Context) bool

// Waiter sleeps in short steps, re-checking liveness before each one.
type Waiter struct {
	Clock Clock
	Step  time.Duration
}

func NewWaiter(clock Clock, step time.Duration) Waiter {
	if clock == nil {
		clock = RealClock
	}
	if step <= 0 {
		step = DefaultStep
	}
	return Waiter{Clock: clock, Step: step}
}

// Wait blocks for d. It returns false as soon as alive reports false or ctx
// is done, and true once the full duration has elapsed.
func (w Waiter) Wait(ctx context.Context, d time.Duration, alive AliveFunc) bool {
	deadline := w.Clock.Now().Add(d)
	for {
		if ctx.Err() != nil {
			return false
		}
		if alive != nil && !alive(ctx) {
			return false
		}
		remaining := deadline.Sub(w.Clock.Now())
		if remaining <= 0 {
			return true
		}
		step := w.Step
		if remaining < step {
			step = remaining
		}
		if err := w.Clock.Sleep(ctx, step); err != nil {
			return false
		}
	}
}
