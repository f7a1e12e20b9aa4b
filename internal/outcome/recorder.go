package outcome

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/cloudconnect/internal/backend"
	"github.com/sweeney/cloudconnect/internal/callstate"
)

// Notes attached to every call logged from the softphone.
const Notes = "Outbound call via Softphone"

// CallLogger posts call logs; *backend.Client satisfies it.
type CallLogger interface {
	LogCall(ctx context.Context, entry backend.CallLog) error
}

// Line is the part of the coordinator the recorder watches.
type Line interface {
	Subscribe(l callstate.StateListener) func()
	Status() callstate.Status
}

// Counter is notified of every outcome that reached the backend.
type Counter interface {
	OutcomeLogged(status string)
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Recorder turns the local line's state changes into call logs. Listeners
// only queue entries; Run delivers them.
type Recorder struct {
	line      Line
	directory *Directory
	sink      CallLogger
	counter   Counter
	clock     Clock
	log       zerolog.Logger

	queue chan backend.CallLog

	// Listener-owned; the coordinator never runs listeners concurrently.
	number      string
	connectedAt time.Time
	phase       callstate.CallState
	duration    int
}

// Option configures a Recorder.
type Option func(*Recorder)

func WithCounter(c Counter) Option {
	return func(r *Recorder) { r.counter = c }
}

func WithClock(c Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// WithQueueSize bounds the number of undelivered entries. Entries beyond it
// are dropped.
func WithQueueSize(n int) Option {
	return func(r *Recorder) { r.queue = make(chan backend.CallLog, n) }
}

func NewRecorder(line Line, directory *Directory, sink CallLogger, opts ...Option) *Recorder {
	r := &Recorder{
		line:      line,
		directory: directory,
		sink:      sink,
		clock:     realClock{},
		log:       zerolog.Nop(),
		queue:     make(chan backend.CallLog, 64),
		phase:     callstate.StateIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes the recorder to the line.
func (r *Recorder) Attach() func() {
	return r.line.Subscribe(r.observe)
}

func (r *Recorder) observe(state callstate.CallState) {
	switch state {
	case callstate.StateConnecting:
		r.reset()
		if num, ok := r.activeNumber(); ok {
			r.number = num
		}
		r.phase = state
	case callstate.StateRinging:
		r.phase = state
	case callstate.StateConnected:
		st := r.line.Status()
		r.connectedAt = st.ConnectedAt
		if r.connectedAt.IsZero() {
			r.connectedAt = r.clock.Now()
		}
		r.phase = state
	case callstate.StateEnding:
		if r.phase == callstate.StateConnected {
			r.duration = int(r.clock.Now().Sub(r.connectedAt) / time.Second)
		}
		// phase keeps the last live state so IDLE can classify the call.
	case callstate.StateIdle:
		r.finish()
		r.reset()
	}
}

func (r *Recorder) activeNumber() (string, bool) {
	st := r.line.Status()
	return st.ActiveNumber, st.ActiveNumber != ""
}

func (r *Recorder) finish() {
	if r.number == "" {
		return
	}

	var status backend.CallStatus
	switch r.phase {
	case callstate.StateConnected:
		status = backend.CallAnswered
	case callstate.StateConnecting, callstate.StateRinging:
		status = backend.CallNoAnswer
	default:
		return
	}

	customer, ok := r.directory.Lookup(r.number)
	if !ok {
		r.log.Debug().Str("number", r.number).Msg("no customer for number, call not logged")
		return
	}

	entry := backend.CallLog{
		CustomerID: customer.ID,
		Status:     status,
		Direction:  backend.Outbound,
		Notes:      Notes,
	}
	if status == backend.CallAnswered {
		entry.Duration = r.duration
	}

	select {
	case r.queue <- entry:
	default:
		r.log.Warn().Str("customer", customer.ID).Msg("outcome queue full, dropping call log")
	}
}

func (r *Recorder) reset() {
	r.number = ""
	r.connectedAt = time.Time{}
	r.phase = callstate.StateIdle
	r.duration = 0
}

// Run delivers queued call logs until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-r.queue:
			r.deliver(ctx, entry)
		}
	}
}

func (r *Recorder) deliver(ctx context.Context, entry backend.CallLog) {
	if err := r.sink.LogCall(ctx, entry); err != nil {
		r.log.Warn().Err(err).Str("customer", entry.CustomerID).Str("status", string(entry.Status)).Msg("logging call outcome")
		return
	}
	r.log.Info().Str("customer", entry.CustomerID).Str("status", string(entry.Status)).Int("duration", entry.Duration).Msg("call outcome logged")
	if r.counter != nil {
		r.counter.OutcomeLogged(string(entry.Status))
	}
}
