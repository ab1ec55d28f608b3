package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// idempotent: calling again should be no-op
	require.NoError(t, Register(reg))

	IncStart("a")
	IncStart("a")
	IncSpawnFailure("a")
	IncStop("a")
	ObserveExit("a", "signaled", 1.5)
	SetRunningBots(2)
	IncLogWriteError("a")
	IncHistoryDropped()
	IncHistoryError()
	IncScheduleRun("a", "started")
	SetScheduleNext("a", 1700000000)

	assert.Equal(t, 2.0, testutil.ToFloat64(botStarts.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(botSpawnFailures.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(botStops.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(botExits.WithLabelValues("a", "signaled")))
	assert.Equal(t, 2.0, testutil.ToFloat64(runningBots))
	assert.Equal(t, 1.0, testutil.ToFloat64(logWriteErrors.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(historyDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(historyErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(scheduleRuns.WithLabelValues("a", "started")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(scheduleNext.WithLabelValues("a")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, n := range []string{
		"botvisor_bot_starts_total",
		"botvisor_bot_spawn_failures_total",
		"botvisor_bot_stops_total",
		"botvisor_bot_exits_total",
		"botvisor_bot_run_duration_seconds",
		"botvisor_bot_running",
		"botvisor_log_write_errors_total",
		"botvisor_history_dropped_total",
		"botvisor_history_send_errors_total",
		"botvisor_schedule_runs_total",
		"botvisor_schedule_next_run_timestamp_seconds",
	} {
		assert.True(t, names[n], "expected to find metric %s", n)
	}

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `botvisor_bot_starts_total{name="a"} 2`))
}
