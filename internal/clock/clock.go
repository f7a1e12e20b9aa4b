// Package clock abstracts timers so that call-state transitions can be driven
// by real time in production and by a virtual clock in tests.
package clock

import (
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing again. It reports whether the
	// timer was still pending.
	Stop() bool
}

// Scheduler provides the current time and delayed or periodic callbacks.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	Every(d time.Duration, f func()) Timer
}

// Real is a Scheduler backed by the runtime timers.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (Real) Every(d time.Duration, f func()) Timer {
	t := &ticker{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go t.loop(f)
	return t
}

type ticker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *ticker) loop(f func()) {
	for {
		select {
		case <-t.ticker.C:
			f()
		case <-t.done:
			return
		}
	}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
		stopped = true
	})
	return stopped
}
