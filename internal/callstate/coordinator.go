// Package callstate coordinates the local softphone line: its call state
// machine, the listeners observing it, and the roster of active calls shown
// to supervisors.
package callstate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/sweeney/cloudconnect/internal/clock"
)

// Default delays used to emulate call progress when no signaling stack
// drives the line.
const (
	DefaultConnectDelay    = 1 * time.Second
	DefaultRingDelay       = 2500 * time.Millisecond
	DefaultTeardownDelay   = 500 * time.Millisecond
	DefaultRefreshInterval = 1 * time.Second
)

var (
	// ErrInvalidNumber is returned by Dial for an empty or unparseable target.
	ErrInvalidNumber = errors.New("invalid dial target")
	// ErrClosed is returned by Dial after Close.
	ErrClosed = errors.New("coordinator closed")
)

// StateListener receives every new state of the local line.
type StateListener func(CallState)

// RosterListener receives the full roster whenever it changes.
type RosterListener func([]ActiveCallEntry)

type notification struct {
	seq      uint64
	hasState bool
	state    CallState
	roster   []ActiveCallEntry
	replay   *subscription[RosterListener]
}

// Coordinator owns the local call state and broadcasts its changes.
// Notifications are delivered in order by a single dispatcher and never
// while the coordinator's lock is held, so listeners may issue commands;
// those commands are delivered after the notification in progress.
type Coordinator struct {
	sched         clock.Scheduler
	log           zerolog.Logger
	source        RosterSource
	names         NameResolver
	connectDelay  time.Duration
	ringDelay     time.Duration
	teardownDelay time.Duration
	refreshEvery  time.Duration

	mu           sync.Mutex
	machine      *fsm.FSM
	epoch        uint64
	registration *Registration
	extension    string
	secret       string
	activeNumber string
	connectedAt  time.Time
	pending      clock.Timer
	refresh      clock.Timer
	closed       bool

	stateSubs   registry[StateListener]
	rosterSubs  registry[RosterListener]
	seq         uint64
	queue       []notification
	dispatching bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithScheduler sets the time source and timer factory.
func WithScheduler(s clock.Scheduler) Option {
	return func(c *Coordinator) { c.sched = s }
}

// WithDelays overrides the emulated connect, ring and teardown delays.
func WithDelays(connect, ring, teardown time.Duration) Option {
	return func(c *Coordinator) {
		c.connectDelay = connect
		c.ringDelay = ring
		c.teardownDelay = teardown
	}
}

// WithRefreshInterval sets how often the roster is recomputed and
// republished. Zero disables the periodic refresh.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.refreshEvery = d }
}

// WithRosterSource sets the feed of other agents' calls.
func WithRosterSource(s RosterSource) Option {
	return func(c *Coordinator) { c.source = s }
}

// WithNameResolver sets the lookup used to name the local call's customer.
func WithNameResolver(r NameResolver) Option {
	return func(c *Coordinator) { c.names = r }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// New creates a Coordinator and starts its roster refresh.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		sched:         clock.Real{},
		log:           zerolog.Nop(),
		connectDelay:  DefaultConnectDelay,
		ringDelay:     DefaultRingDelay,
		teardownDelay: DefaultTeardownDelay,
		refreshEvery:  DefaultRefreshInterval,
		machine:       newMachine(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.refreshEvery > 0 {
		c.refresh = c.sched.Every(c.refreshEvery, c.tick)
	}
	return c
}

// Register stores the signaling endpoint and line credentials. It may be
// called again to replace them; call state and subscribers are untouched.
func (c *Coordinator) Register(reg Registration, extension, secret string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.registration = &reg
	c.extension = extension
	c.secret = secret

	aor := reg.AddressOfRecord(extension)
	c.log.Info().
		Str("server", reg.Server).
		Str("protocol", reg.Protocol).
		Str("aor", aor.String()).
		Bool("has_secret", secret != "").
		Msg("line registered")
}

// Dial starts an outbound call to number. It fails with a
// *ConfigurationError when no extension is registered. Dialing while a call
// is already in progress is ignored.
func (c *Coordinator) Dial(number string) error {
	number = strings.TrimSpace(number)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.extension == "" {
		c.mu.Unlock()
		return &ConfigurationError{Reason: "no SIP line configured"}
	}
	if number == "" {
		c.mu.Unlock()
		return fmt.Errorf("%w: empty number", ErrInvalidNumber)
	}
	if strings.HasPrefix(number, "sip:") {
		var uri sip.Uri
		if err := sip.ParseUri(number, &uri); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrInvalidNumber, err)
		}
	}
	if state := c.currentLocked(); state != StateIdle {
		c.mu.Unlock()
		c.log.Debug().Str("state", string(state)).Str("number", number).Msg("dial ignored, line busy")
		return nil
	}

	ok := c.transitionLocked(eventDial, func() {
		c.activeNumber = number
		c.connectedAt = time.Time{}
	})
	if ok {
		c.log.Info().
			Str("number", number).
			Str("target", c.targetLocked(number)).
			Msg("dialing")
		epoch := c.epoch
		c.pending = c.sched.AfterFunc(c.connectDelay, func() { c.progress(epoch) })
	}
	c.mu.Unlock()

	c.dispatch()
	return nil
}

// Answer connects a ringing call. It has no effect in any other state.
func (c *Coordinator) Answer() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ok := c.transitionLocked(eventAnswer, func() {
		c.connectedAt = c.sched.Now()
	})
	if ok {
		c.stopPendingLocked()
	}
	c.mu.Unlock()

	c.dispatch()
}

// HangUp tears down the current call. The line passes through ENDING and
// returns to IDLE after the teardown delay. It has no effect while idle or
// after Close.
func (c *Coordinator) HangUp() {
	c.mu.Lock()
	if c.closed || c.currentLocked() == StateIdle {
		c.mu.Unlock()
		return
	}
	ok := c.transitionLocked(eventHangUp, nil)
	if ok {
		c.log.Info().Str("number", c.activeNumber).Msg("hanging up")
		c.stopPendingLocked()
		epoch := c.epoch
		c.pending = c.sched.AfterFunc(c.teardownDelay, func() { c.release(epoch) })
	}
	c.mu.Unlock()

	c.dispatch()
}

// ActiveNumber returns the number of the current call, if any.
func (c *Coordinator) ActiveNumber() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeNumber, c.activeNumber != ""
}

// State returns the current state of the local line.
func (c *Coordinator) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

// Status returns the current state together with the call details.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:        c.currentLocked(),
		ActiveNumber: c.activeNumber,
		ConnectedAt:  c.connectedAt,
	}
}

// Registered returns the current registration and extension, if any.
func (c *Coordinator) Registered() (Registration, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registration == nil {
		return Registration{}, c.extension, false
	}
	return *c.registration, c.extension, true
}

// Roster returns the current combined roster.
func (c *Coordinator) Roster() []ActiveCallEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rosterLocked(c.sched.Now())
}

// Subscribe registers l for state changes. The returned function removes it;
// calling it more than once is harmless.
func (c *Coordinator) Subscribe(l StateListener) func() {
	c.mu.Lock()
	sub := c.stateSubs.add(l, c.seq)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.stateSubs.remove(sub.token)
	}
}

// SubscribeRoster registers l for roster changes. l first receives the
// current roster, before any later change.
func (c *Coordinator) SubscribeRoster(l RosterListener) func() {
	c.mu.Lock()
	c.seq++
	sub := c.rosterSubs.add(l, c.seq)
	c.queue = append(c.queue, notification{
		seq:    c.seq,
		roster: c.rosterLocked(c.sched.Now()),
		replay: sub,
	})
	c.mu.Unlock()

	c.dispatch()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.rosterSubs.remove(sub.token)
	}
}

// RefreshRoster recomputes the roster and publishes it to roster listeners.
// External feeds call it when their calls change.
func (c *Coordinator) RefreshRoster() {
	c.mu.Lock()
	c.enqueueLocked(false)
	c.mu.Unlock()

	c.dispatch()
}

// Close stops the roster refresh and any pending transition.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stopPendingLocked()
	if c.refresh != nil {
		c.refresh.Stop()
		c.refresh = nil
	}
}

func (c *Coordinator) tick() {
	if t, ok := c.source.(Ticker); ok {
		t.Tick(c.sched.Now())
	}
	c.RefreshRoster()
}

// progress moves a connecting call to ringing, unless anything else has
// happened to the line since it was scheduled.
func (c *Coordinator) progress(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.closed {
		c.mu.Unlock()
		return
	}
	if c.transitionLocked(eventProgress, nil) {
		next := c.epoch
		c.pending = c.sched.AfterFunc(c.ringDelay, func() { c.pickUp(next) })
	}
	c.mu.Unlock()

	c.dispatch()
}

func (c *Coordinator) pickUp(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.transitionLocked(eventAnswer, func() {
		c.connectedAt = c.sched.Now()
	})
	c.mu.Unlock()

	c.dispatch()
}

func (c *Coordinator) release(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.transitionLocked(eventRelease, func() {
		c.activeNumber = ""
		c.connectedAt = time.Time{}
	})
	c.mu.Unlock()

	c.dispatch()
}

func (c *Coordinator) currentLocked() CallState {
	return CallState(c.machine.Current())
}

// transitionLocked fires event on the state machine. On success it bumps the
// epoch, applies side effects and queues exactly one notification.
func (c *Coordinator) transitionLocked(event string, apply func()) bool {
	from := c.currentLocked()
	if err := c.machine.Event(context.Background(), event); err != nil {
		c.log.Debug().
			Str("event", event).
			Str("state", string(from)).
			Err(err).
			Msg("transition ignored")
		return false
	}
	c.epoch++
	if apply != nil {
		apply()
	}
	c.log.Debug().
		Str("from", string(from)).
		Str("to", string(c.currentLocked())).
		Msg("state changed")
	c.enqueueLocked(true)
	return true
}

func (c *Coordinator) enqueueLocked(withState bool) {
	c.seq++
	c.queue = append(c.queue, notification{
		seq:      c.seq,
		hasState: withState,
		state:    c.currentLocked(),
		roster:   c.rosterLocked(c.sched.Now()),
	})
}

func (c *Coordinator) stopPendingLocked() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

func (c *Coordinator) targetLocked(number string) string {
	if c.registration == nil || strings.HasPrefix(number, "sip:") {
		return number
	}
	uri := c.registration.AddressOfRecord(number)
	return uri.String()
}

// dispatch drains the notification queue. Only one goroutine drains at a
// time; others leave their notifications for it.
func (c *Coordinator) dispatch() {
	c.mu.Lock()
	if c.dispatching {
		c.mu.Unlock()
		return
	}
	c.dispatching = true

	for len(c.queue) > 0 {
		n := c.queue[0]
		c.queue[0] = notification{}
		c.queue = c.queue[1:]

		var states []*subscription[StateListener]
		if n.hasState {
			states = c.stateSubs.snapshot()
		}
		var rosters []*subscription[RosterListener]
		if n.replay == nil {
			rosters = c.rosterSubs.snapshot()
		}
		c.mu.Unlock()

		for _, s := range states {
			if s.receives(n.seq) {
				c.deliver(func() { s.fn(n.state) })
			}
		}
		if n.replay != nil {
			if n.replay.active.Load() {
				c.deliver(func() { n.replay.fn(cloneRoster(n.roster)) })
			}
		} else {
			for _, s := range rosters {
				if s.receives(n.seq) {
					c.deliver(func() { s.fn(cloneRoster(n.roster)) })
				}
			}
		}

		c.mu.Lock()
	}

	c.queue = nil
	c.dispatching = false
	c.mu.Unlock()
}

func (c *Coordinator) deliver(f func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("listener panicked")
		}
	}()
	f()
}

func cloneRoster(in []ActiveCallEntry) []ActiveCallEntry {
	out := make([]ActiveCallEntry, len(in))
	copy(out, in)
	return out
}
