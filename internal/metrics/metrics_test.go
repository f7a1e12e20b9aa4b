package metrics_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/cloudconnect/internal/callstate"
	"github.com/sweeney/cloudconnect/internal/clock"
	"github.com/sweeney/cloudconnect/internal/metrics"
)

func gaugeValue(t *testing.T, m *metrics.Collector, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestAttachCountsTransitions(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	coord := callstate.New(callstate.WithScheduler(clk), callstate.WithRefreshInterval(0))
	defer coord.Close()
	coord.Register(callstate.Registration{Server: "sip.example.com"}, "1001", "")

	m := metrics.New()
	detach := m.Attach(coord)

	require.NoError(t, coord.Dial("+1555"))
	clk.Advance(time.Minute)

	// Roster gauge was fed by the replay and every transition.
	assert.Equal(t, 1.0, gaugeValue(t, m, "softphone_roster_calls"))

	coord.HangUp()
	clk.Advance(time.Minute)
	detach()

	require.NoError(t, coord.Dial("+1666"))

	count, err := testutil.GatherAndCount(m.Registry(), "softphone_state_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 5, count, "one series per state")
	assert.Equal(t, 0.0, gaugeValue(t, m, "softphone_roster_calls"))
}

func TestHandlerServesMetrics(t *testing.T) {
	m := metrics.New()
	m.DialFailed()
	m.OutcomeLogged("ANSWERED")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "softphone_dial_failures_total 1")
	assert.Contains(t, body, `softphone_call_outcomes_total{status="ANSWERED"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
