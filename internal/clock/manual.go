package clock

import (
	"sync"
	"time"
)

// Manual is a virtual-time Scheduler. Nothing fires until Advance is called;
// callbacks then run on the caller's goroutine in deadline order, ties broken
// by scheduling order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	m       *Manual
	at      time.Time
	every   time.Duration
	seq     uint64
	f       func()
	stopped bool
}

// NewManual creates a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	return m.schedule(d, 0, f)
}

func (m *Manual) Every(d time.Duration, f func()) Timer {
	if d <= 0 {
		panic("clock: non-positive interval for Every")
	}
	return m.schedule(d, d, f)
}

func (m *Manual) schedule(d, every time.Duration, f func()) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{
		m:     m,
		at:    m.now.Add(d),
		every: every,
		seq:   m.seq,
		f:     f,
	}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves virtual time forward by d, firing every callback that falls
// due, including ones scheduled by callbacks during the advance.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		t := m.nextDueLocked(target)
		if t == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = t.at
		if t.every > 0 {
			m.seq++
			t.at = t.at.Add(t.every)
			t.seq = m.seq
		} else {
			t.stopped = true
			m.removeLocked(t)
		}
		m.mu.Unlock()

		t.f()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manual) nextDueLocked(target time.Time) *manualTimer {
	var next *manualTimer
	for _, t := range m.timers {
		if t.at.After(target) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

func (m *Manual) removeLocked(t *manualTimer) {
	for i, other := range m.timers {
		if other == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.m.removeLocked(t)
	return true
}
