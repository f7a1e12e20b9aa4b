package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/cloudconnect/internal/callstate"
	"github.com/sweeney/cloudconnect/internal/pbxfeed"
)

// Line is the part of the coordinator the bridge mirrors.
type Line interface {
	Subscribe(l callstate.StateListener) func()
	SubscribeRoster(l callstate.RosterListener) func()
	ActiveNumber() (string, bool)
}

// StatePayload is published on <prefix>/softphone/state.
type StatePayload struct {
	State     callstate.CallState `json:"state"`
	Number    string              `json:"number,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Bridge mirrors the softphone line and PBX call changes onto MQTT topics.
// Listeners only encode and queue; Run performs the publishes.
type Bridge struct {
	pub    Publisher
	prefix string
	log    zerolog.Logger
	now    func() time.Time
	queue  chan Message
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

func WithBridgeLogger(l zerolog.Logger) BridgeOption {
	return func(b *Bridge) { b.log = l }
}

func WithBridgeClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) { b.now = now }
}

// WithQueueSize bounds the number of unsent messages. Messages beyond it are
// dropped.
func WithQueueSize(n int) BridgeOption {
	return func(b *Bridge) { b.queue = make(chan Message, n) }
}

func NewBridge(pub Publisher, prefix string, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		pub:    pub,
		prefix: prefix,
		log:    zerolog.Nop(),
		now:    time.Now,
		queue:  make(chan Message, 256),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) StateTopic() string        { return b.prefix + "/softphone/state" }
func (b *Bridge) RosterTopic() string       { return b.prefix + "/calls/active" }
func (b *Bridge) AvailabilityTopic() string { return b.prefix + "/softphone/availability" }

// ChangeTopic is the topic for a PBX call entering a phase.
func (b *Bridge) ChangeTopic(c pbxfeed.Change) string {
	return b.prefix + "/pbx/call/" + c.CallID + "/" + string(c.Phase)
}

// Attach subscribes the bridge to the line. The returned function detaches
// it.
func (b *Bridge) Attach(line Line) func() {
	stopState := line.Subscribe(func(s callstate.CallState) {
		number, _ := line.ActiveNumber()
		if s == callstate.StateIdle {
			number = ""
		}
		b.enqueue(b.StateTopic(), StatePayload{State: s, Number: number, Timestamp: b.now().UTC()}, true)
	})
	stopRoster := line.SubscribeRoster(func(entries []callstate.ActiveCallEntry) {
		if entries == nil {
			entries = []callstate.ActiveCallEntry{}
		}
		b.enqueue(b.RosterTopic(), entries, true)
	})
	return func() {
		stopState()
		stopRoster()
	}
}

// PublishChanges queues PBX call changes.
func (b *Bridge) PublishChanges(changes []pbxfeed.Change) {
	for _, c := range changes {
		b.enqueue(b.ChangeTopic(c), c, false)
	}
}

func (b *Bridge) enqueue(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.log.Error().Err(err).Str("topic", topic).Msg("encoding payload")
		return
	}
	select {
	case b.queue <- Message{Topic: topic, Payload: payload, Retained: retained}:
	default:
		b.log.Warn().Str("topic", topic).Msg("publish queue full, dropping message")
	}
}

// Run publishes queued messages until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.queue:
			if err := b.pub.Publish(ctx, msg.Topic, msg.Payload, msg.Retained); err != nil {
				b.log.Error().Err(err).Str("topic", msg.Topic).Msg("publish failed")
				continue
			}
			b.log.Debug().Str("topic", msg.Topic).Msg("published")
		}
	}
}
