package outcome

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/cloudconnect/internal/backend"
	"github.com/sweeney/cloudconnect/internal/callstate"
	"github.com/sweeney/cloudconnect/internal/clock"
)

type staticCustomers struct {
	customers []backend.Customer
	err       error
	calls     int
}

func (s *staticCustomers) Customers(ctx context.Context, limit int) ([]backend.Customer, error) {
	s.calls++
	return s.customers, s.err
}

type sinkRecorder struct {
	mu      sync.Mutex
	entries []backend.CallLog
	err     error
	got     chan struct{}
}

func newSink() *sinkRecorder {
	return &sinkRecorder{got: make(chan struct{}, 16)}
}

func (s *sinkRecorder) LogCall(ctx context.Context, entry backend.CallLog) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	s.got <- struct{}{}
	return s.err
}

type countRecorder struct {
	mu       sync.Mutex
	statuses []string
}

func (c *countRecorder) OutcomeLogged(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, status)
}

func (c *countRecorder) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.statuses...)
}

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	d := NewDirectory(&staticCustomers{customers: []backend.Customer{
		{ID: "c1", Name: "Ann Lee", Phone: "+15551234"},
		{ID: "c2", Name: "", Phone: " +15559999 "},
		{ID: "c3", Name: "No Phone"},
	}})
	require.NoError(t, d.Refresh(context.Background()))
	return d
}

func setup(t *testing.T) (*callstate.Coordinator, *clock.Manual, *Recorder) {
	t.Helper()
	clk := clock.NewManual(start)
	coord := callstate.New(callstate.WithScheduler(clk), callstate.WithRefreshInterval(0))
	t.Cleanup(coord.Close)
	coord.Register(callstate.Registration{Server: "pbx.example.com", Domain: "example.com"}, "1001", "pw")

	r := NewRecorder(coord, testDirectory(t), newSink(), WithClock(clk))
	t.Cleanup(r.Attach())
	return coord, clk, r
}

func queued(r *Recorder) []backend.CallLog {
	var out []backend.CallLog
	for {
		select {
		case e := <-r.queue:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestDirectoryLookup(t *testing.T) {
	d := testDirectory(t)
	assert.Equal(t, 2, d.Len())

	c, ok := d.Lookup("+15551234")
	require.True(t, ok)
	assert.Equal(t, "c1", c.ID)

	_, ok = d.Lookup("+15550000")
	assert.False(t, ok)

	name, ok := d.CustomerName("+15551234")
	assert.True(t, ok)
	assert.Equal(t, "Ann Lee", name)

	_, ok = d.CustomerName("+15559999")
	assert.False(t, ok, "customer without a name resolves to nothing")
}

func TestDirectoryKeepsIndexOnError(t *testing.T) {
	src := &staticCustomers{customers: []backend.Customer{{ID: "c1", Phone: "1"}}}
	d := NewDirectory(src)
	require.NoError(t, d.Refresh(context.Background()))

	src.err = errors.New("boom")
	require.Error(t, d.Refresh(context.Background()))
	assert.Equal(t, 1, d.Len())
	assert.Equal(t, 2, src.calls)
}

func TestAnsweredCallIsLoggedWithDuration(t *testing.T) {
	coord, clk, r := setup(t)

	require.NoError(t, coord.Dial("+15551234"))
	clk.Advance(callstate.DefaultConnectDelay + callstate.DefaultRingDelay)
	require.Equal(t, callstate.StateConnected, coord.State())

	clk.Advance(42 * time.Second)
	coord.HangUp()
	assert.Empty(t, queued(r), "nothing logged before the line is idle")

	clk.Advance(callstate.DefaultTeardownDelay)

	entries := queued(r)
	require.Len(t, entries, 1)
	assert.Equal(t, backend.CallLog{
		CustomerID: "c1",
		Duration:   42,
		Status:     backend.CallAnswered,
		Direction:  backend.Outbound,
		Notes:      Notes,
	}, entries[0])
}

func TestCallEndedWhileRingingIsNoAnswer(t *testing.T) {
	coord, clk, r := setup(t)

	require.NoError(t, coord.Dial("+15551234"))
	clk.Advance(callstate.DefaultConnectDelay)
	require.Equal(t, callstate.StateRinging, coord.State())

	coord.HangUp()
	clk.Advance(callstate.DefaultTeardownDelay)

	entries := queued(r)
	require.Len(t, entries, 1)
	assert.Equal(t, backend.CallNoAnswer, entries[0].Status)
	assert.Zero(t, entries[0].Duration)
}

func TestCallEndedWhileConnectingIsNoAnswer(t *testing.T) {
	coord, clk, r := setup(t)

	require.NoError(t, coord.Dial("+15551234"))
	coord.HangUp()
	clk.Advance(callstate.DefaultTeardownDelay)

	entries := queued(r)
	require.Len(t, entries, 1)
	assert.Equal(t, backend.CallNoAnswer, entries[0].Status)
}

func TestUnknownNumberIsSkipped(t *testing.T) {
	coord, clk, r := setup(t)

	require.NoError(t, coord.Dial("+15550000"))
	clk.Advance(callstate.DefaultConnectDelay + callstate.DefaultRingDelay)
	coord.HangUp()
	clk.Advance(callstate.DefaultTeardownDelay)

	assert.Empty(t, queued(r))
}

func TestConsecutiveCallsAreLoggedSeparately(t *testing.T) {
	coord, clk, r := setup(t)

	require.NoError(t, coord.Dial("+15551234"))
	clk.Advance(callstate.DefaultConnectDelay + callstate.DefaultRingDelay)
	clk.Advance(10 * time.Second)
	coord.HangUp()
	clk.Advance(callstate.DefaultTeardownDelay)

	require.NoError(t, coord.Dial("+15551234"))
	clk.Advance(callstate.DefaultConnectDelay)
	coord.HangUp()
	clk.Advance(callstate.DefaultTeardownDelay)

	entries := queued(r)
	require.Len(t, entries, 2)
	assert.Equal(t, backend.CallAnswered, entries[0].Status)
	assert.Equal(t, 10, entries[0].Duration)
	assert.Equal(t, backend.CallNoAnswer, entries[1].Status)
	assert.Zero(t, entries[1].Duration)
}

func TestFullQueueDropsEntries(t *testing.T) {
	clk := clock.NewManual(start)
	coord := callstate.New(callstate.WithScheduler(clk), callstate.WithRefreshInterval(0))
	t.Cleanup(coord.Close)
	coord.Register(callstate.Registration{Server: "pbx.example.com"}, "1001", "pw")

	r := NewRecorder(coord, testDirectory(t), newSink(), WithClock(clk), WithQueueSize(1))
	t.Cleanup(r.Attach())

	for i := 0; i < 3; i++ {
		require.NoError(t, coord.Dial("+15551234"))
		coord.HangUp()
		clk.Advance(callstate.DefaultTeardownDelay)
	}
	assert.Len(t, queued(r), 1)
}

func TestRunDeliversAndCounts(t *testing.T) {
	sink := newSink()
	counter := &countRecorder{}
	r := NewRecorder(nil, testDirectory(t), sink, WithCounter(counter))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	r.queue <- backend.CallLog{CustomerID: "c1", Status: backend.CallAnswered}
	r.queue <- backend.CallLog{CustomerID: "c1", Status: backend.CallNoAnswer}

	for i := 0; i < 2; i++ {
		select {
		case <-sink.got:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}

	cancel()
	<-done

	assert.Eventually(t, func() bool { return len(counter.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ANSWERED", "NO_ANSWER"}, counter.snapshot())
}

func TestRunFailureIsNotCounted(t *testing.T) {
	sink := newSink()
	sink.err = errors.New("backend down")
	counter := &countRecorder{}
	r := NewRecorder(nil, testDirectory(t), sink, WithCounter(counter))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	r.queue <- backend.CallLog{CustomerID: "c1", Status: backend.CallAnswered}
	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	cancel()
	<-done

	assert.Empty(t, counter.snapshot())
}
