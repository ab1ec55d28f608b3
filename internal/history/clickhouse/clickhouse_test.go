package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/botvisor/internal/history"
)

// setupClickHouse starts a ClickHouse container and returns a sink DSN.
func setupClickHouse(ctx context.Context, t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ch, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("clickhouse container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ch.Terminate(ctx) })

	host, err := ch.Host(ctx)
	require.NoError(t, err)
	port, err := ch.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return fmt.Sprintf("clickhouse://default:@%s:%s/default?table=bot_runs", host, port.Port())
}

func TestClickHouseSinkIntegration(t *testing.T) {
	ctx := context.Background()
	dsn := setupClickHouse(ctx, t)

	sink, err := New(ctx, dsn)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	assert.Equal(t, "bot_runs", sink.table)

	now := time.Now().UTC()
	code := 0
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: now, Bot: "echo", Category: "custom", RunID: "r1", PID: 10, StartedAt: now}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventExit, OccurredAt: now.Add(time.Second), Bot: "echo", Category: "custom", RunID: "r1", PID: 10, StartedAt: now, ExitCode: &code, Outcome: "success", DurationMS: 1000}))

	var count uint64
	require.NoError(t, sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM bot_runs WHERE run_id = ?", "r1").Scan(&count))
	assert.Equal(t, uint64(2), count)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, sink.Send(cancelled, history.Event{Type: history.EventStart, OccurredAt: now, Bot: "x", RunID: "r2", StartedAt: now}))
}

func TestNewRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, "clickhouse://localhost:9000/default?table=bad;drop")
	assert.Error(t, err)

	short, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = New(short, "clickhouse://127.0.0.1:1/default")
	assert.Error(t, err)
}
