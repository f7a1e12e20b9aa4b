// Package pbxfeed builds the roster of other agents' calls from Asterisk
// manager events.
package pbxfeed

import (
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/cloudconnect/internal/ami"
	"github.com/sweeney/cloudconnect/internal/callstate"
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

type call struct {
	id         string
	from       Endpoint
	to         Endpoint
	ringTime   time.Time
	answerTime time.Time
	rung       bool
	answered   bool
	cancelled  bool
}

// Feed tracks PBX calls by Linkedid. Calls appear in the roster once they
// ring and leave it when the originating channel hangs up. It is safe for
// concurrent use: the AMI reader feeds it while the coordinator reads it.
type Feed struct {
	clock    Clock
	localExt string

	mu    sync.Mutex
	calls map[string]*call
	order []string
}

// Option configures a Feed.
type Option func(*Feed)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(f *Feed) { f.clock = c }
}

// WithLocalExtension hides calls to or from ext; the coordinator already
// reports the local line itself.
func WithLocalExtension(ext string) Option {
	return func(f *Feed) { f.localExt = ext }
}

// New creates a Feed.
func New(opts ...Option) *Feed {
	f := &Feed{
		clock: time.Now,
		calls: make(map[string]*call),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Process ingests one AMI event and returns the phase changes it caused.
func (f *Feed) Process(evt ami.Event) []Change {
	if evt.IsResponse() {
		return nil
	}
	linkedID := evt.Get("Linkedid")
	if linkedID == "" {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch evt.Type() {
	case "Newchannel":
		f.newChannel(evt, linkedID)
	case "DialBegin":
		if c := f.calls[linkedID]; c != nil && c.to.Name == "" {
			c.to.Name = evt.Get("DestCallerIDName")
		}
	case "DialEnd":
		if c := f.calls[linkedID]; c != nil && evt.Get("DialStatus") == "CANCEL" {
			c.cancelled = true
		}
	case "Newstate":
		return f.newState(evt, linkedID)
	case "Hangup":
		return f.hangup(evt, linkedID)
	}
	return nil
}

func (f *Feed) newChannel(evt ami.Event, linkedID string) {
	if _, exists := f.calls[linkedID]; exists {
		return
	}
	f.calls[linkedID] = &call{
		id: linkedID,
		from: Endpoint{
			Extension: evt.Get("CallerIDNum"),
			Name:      evt.Get("CallerIDName"),
		},
		to: Endpoint{Extension: evt.Get("Exten")},
	}
}

func (f *Feed) newState(evt ami.Event, linkedID string) []Change {
	c := f.calls[linkedID]
	if c == nil {
		return nil
	}
	switch evt.Get("ChannelStateDesc") {
	case "Ringing":
		if c.rung {
			return nil
		}
		now := f.clock()
		c.rung = true
		c.ringTime = now
		f.order = append(f.order, linkedID)
		return []Change{{
			Phase:     PhaseRinging,
			CallID:    linkedID,
			From:      c.from,
			To:        c.to,
			Timestamp: now,
		}}

	case "Up":
		if c.answered {
			return nil
		}
		now := f.clock()
		c.answered = true
		c.answerTime = now
		if !c.rung {
			// Answered without a ringing phase, e.g. an auto-answer queue.
			c.rung = true
			c.ringTime = now
			f.order = append(f.order, linkedID)
		}
		return []Change{{
			Phase:       PhaseAnswered,
			CallID:      linkedID,
			From:        c.from,
			To:          c.to,
			Timestamp:   now,
			RingSeconds: now.Sub(c.ringTime).Seconds(),
		}}
	}
	return nil
}

func (f *Feed) hangup(evt ami.Event, linkedID string) []Change {
	c := f.calls[linkedID]
	if c == nil {
		return nil
	}
	// Only the originating channel ends the call.
	if evt.Get("Uniqueid") != linkedID {
		return nil
	}

	now := f.clock()
	code := evt.GetInt("Cause")
	change := Change{
		Phase:     PhaseHungUp,
		CallID:    linkedID,
		From:      c.from,
		To:        c.to,
		Timestamp: now,
		Cause:     causeName(code, c.cancelled, c.answered),
		CauseCode: code,
	}
	if c.answered {
		change.TalkSeconds = now.Sub(c.answerTime).Seconds()
	}
	if c.rung {
		change.TotalSeconds = now.Sub(c.ringTime).Seconds()
	}

	delete(f.calls, linkedID)
	for i, id := range f.order {
		if id == linkedID {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}

	if !c.rung {
		return nil
	}
	return []Change{change}
}

// Entries returns the ringing and connected calls in the order they
// started ringing.
func (f *Feed) Entries(now time.Time) []callstate.ActiveCallEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := make([]callstate.ActiveCallEntry, 0, len(f.order))
	for _, id := range f.order {
		c := f.calls[id]
		if f.isLocal(c) {
			continue
		}
		entry := callstate.ActiveCallEntry{
			ID:             c.id,
			AgentName:      displayName(c.from),
			CustomerName:   displayName(c.to),
			CustomerNumber: c.to.Extension,
			State:          callstate.StateRinging,
			StartTime:      c.ringTime,
		}
		if c.answered {
			entry.State = callstate.StateConnected
			entry.StartTime = c.answerTime
			if d := now.Sub(c.answerTime); d > 0 {
				entry.Duration = int(d / time.Second)
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// Reset forgets every tracked call and reports how many were dropped. Once
// the AMI connection is lost the hangups for these calls will never arrive.
func (f *Feed) Reset() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.calls)
	clear(f.calls)
	f.order = f.order[:0]
	return n
}

// ActiveCalls returns the number of calls being tracked, including ones
// that have not started ringing yet.
func (f *Feed) ActiveCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *Feed) isLocal(c *call) bool {
	return f.localExt != "" && (c.from.Extension == f.localExt || c.to.Extension == f.localExt)
}

func displayName(e Endpoint) string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("Ext %s", e.Extension)
}
