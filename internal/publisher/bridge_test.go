package publisher

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/cloudconnect/internal/callstate"
	"github.com/sweeney/cloudconnect/internal/clock"
	"github.com/sweeney/cloudconnect/internal/pbxfeed"
)

var bridgeStart = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func drain(b *Bridge) []Message {
	var out []Message
	for {
		select {
		case m := <-b.queue:
			out = append(out, m)
		default:
			return out
		}
	}
}

func byTopic(msgs []Message, topic string) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func newLine(t *testing.T) (*callstate.Coordinator, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(bridgeStart)
	coord := callstate.New(callstate.WithScheduler(clk), callstate.WithRefreshInterval(0))
	t.Cleanup(coord.Close)
	coord.Register(callstate.Registration{Server: "pbx.example.com", Domain: "example.com"}, "1001", "pw")
	return coord, clk
}

func TestBridgeReplaysRosterOnAttach(t *testing.T) {
	coord, _ := newLine(t)
	b := NewBridge(NewMockPublisher(), "cc")
	t.Cleanup(b.Attach(coord))

	msgs := drain(b)
	require.Len(t, msgs, 1)
	assert.Equal(t, "cc/calls/active", msgs[0].Topic)
	assert.True(t, msgs[0].Retained)
	assert.JSONEq(t, `[]`, string(msgs[0].Payload))
}

func TestBridgeMirrorsCall(t *testing.T) {
	coord, clk := newLine(t)
	b := NewBridge(NewMockPublisher(), "cc", WithBridgeClock(clk.Now))
	t.Cleanup(b.Attach(coord))
	drain(b)

	require.NoError(t, coord.Dial("+15551234"))
	clk.Advance(callstate.DefaultConnectDelay + callstate.DefaultRingDelay)
	coord.HangUp()
	clk.Advance(callstate.DefaultTeardownDelay)

	msgs := drain(b)
	states := byTopic(msgs, "cc/softphone/state")
	require.Len(t, states, 5)

	var got []StatePayload
	for _, m := range states {
		assert.True(t, m.Retained)
		var p StatePayload
		require.NoError(t, json.Unmarshal(m.Payload, &p))
		got = append(got, p)
	}
	assert.Equal(t, callstate.StateConnecting, got[0].State)
	assert.Equal(t, "+15551234", got[0].Number)
	assert.True(t, bridgeStart.Equal(got[0].Timestamp))
	assert.Equal(t, callstate.StateConnected, got[2].State)
	assert.Equal(t, callstate.StateIdle, got[4].State)
	assert.Empty(t, got[4].Number)

	rosters := byTopic(msgs, "cc/calls/active")
	require.Len(t, rosters, 5)
	var connected []callstate.ActiveCallEntry
	require.NoError(t, json.Unmarshal(rosters[2].Payload, &connected))
	require.Len(t, connected, 1)
	assert.Equal(t, callstate.LocalEntryID, connected[0].ID)
	assert.Equal(t, "+15551234", connected[0].CustomerNumber)
	assert.JSONEq(t, `[]`, string(rosters[4].Payload))
}

func TestBridgeDetach(t *testing.T) {
	coord, _ := newLine(t)
	b := NewBridge(NewMockPublisher(), "cc")
	detach := b.Attach(coord)
	drain(b)

	detach()
	require.NoError(t, coord.Dial("+1555"))
	assert.Empty(t, drain(b))
}

func TestBridgeChangeTopics(t *testing.T) {
	b := NewBridge(NewMockPublisher(), "cc")
	b.PublishChanges([]pbxfeed.Change{
		{Phase: pbxfeed.PhaseRinging, CallID: "1700000000.1", From: pbxfeed.Endpoint{Extension: "1002"}},
		{Phase: pbxfeed.PhaseHungUp, CallID: "1700000000.1", Cause: "normal_clearing"},
	})

	msgs := drain(b)
	require.Len(t, msgs, 2)
	assert.Equal(t, "cc/pbx/call/1700000000.1/ringing", msgs[0].Topic)
	assert.Equal(t, "cc/pbx/call/1700000000.1/hungup", msgs[1].Topic)
	assert.False(t, msgs[0].Retained)

	var c pbxfeed.Change
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &c))
	assert.Equal(t, "normal_clearing", c.Cause)
}

func TestBridgeDropsWhenQueueFull(t *testing.T) {
	b := NewBridge(NewMockPublisher(), "cc", WithQueueSize(1))
	b.PublishChanges([]pbxfeed.Change{
		{Phase: pbxfeed.PhaseRinging, CallID: "a"},
		{Phase: pbxfeed.PhaseRinging, CallID: "b"},
	})
	msgs := drain(b)
	require.Len(t, msgs, 1)
	assert.Equal(t, "cc/pbx/call/a/ringing", msgs[0].Topic)
}

func TestBridgeRunPublishes(t *testing.T) {
	mock := NewMockPublisher()
	b := NewBridge(mock, "cc")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	b.PublishChanges([]pbxfeed.Change{{Phase: pbxfeed.PhaseAnswered, CallID: "x"}})

	assert.Eventually(t, func() bool {
		return len(mock.OnTopic("cc/pbx/call/x/answered")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

// flakyPublisher fails its first publish.
type flakyPublisher struct {
	*MockPublisher
	calls atomic.Int32
}

func (f *flakyPublisher) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	if f.calls.Add(1) == 1 {
		return assert.AnError
	}
	return f.MockPublisher.Publish(ctx, topic, payload, retained)
}

func TestBridgeRunSurvivesPublishErrors(t *testing.T) {
	pub := &flakyPublisher{MockPublisher: NewMockPublisher()}
	b := NewBridge(pub, "cc")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	b.PublishChanges([]pbxfeed.Change{
		{Phase: pbxfeed.PhaseRinging, CallID: "lost"},
		{Phase: pbxfeed.PhaseRinging, CallID: "kept"},
	})
	assert.Eventually(t, func() bool {
		return len(pub.OnTopic("cc/pbx/call/kept/ringing")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, pub.OnTopic("cc/pbx/call/lost/ringing"))

	cancel()
	<-done
}
