package sync

import (
	"time"

	"github.com/matheus3301/chatsync/internal/platform"
)

// loopClock runs timer callbacks on the engine's event loop instead of the
// timer's own goroutine, so components never need locks.
type loopClock struct {
	clock platform.Clock
	post  func(func()) error
}

type loopTimer struct {
	inner platform.Timer
	// done is only touched on the loop.
	done bool
}

func (c *loopClock) Now() time.Time {
	return c.clock.Now()
}

func (c *loopClock) AfterFunc(d time.Duration, f func()) platform.Timer {
	t := &loopTimer{}
	t.inner = c.clock.AfterFunc(d, func() {
		_ = c.post(func() {
			// Stop may have run on the loop after the timer fired but
			// before this callback was scheduled.
			if t.done {
				return
			}
			t.done = true
			f()
		})
	})
	return t
}

func (t *loopTimer) Stop() bool {
	if t.done {
		return false
	}
	t.done = true
	t.inner.Stop()
	return true
}
