package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/botvisor/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresSinkIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	pg, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	defer func() { _ = pg.Terminate(ctx) }()

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sink, err := New(connStr)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	now := time.Now().UTC()
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: now, Bot: "web", Category: "node", RunID: "r1", PID: 7, StartedAt: now}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventExit, OccurredAt: now.Add(time.Second), Bot: "web", Category: "node", RunID: "r1", PID: 7, StartedAt: now, Signal: "SIGTERM", Outcome: "signaled", DurationMS: 1000}))

	var n int
	require.NoError(t, sink.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bot_history WHERE run_id = 'r1'`).Scan(&n))
	assert.Equal(t, 2, n)

	var signal string
	require.NoError(t, sink.db.QueryRowContext(ctx, `SELECT signal FROM bot_history WHERE event = 'exit'`).Scan(&signal))
	assert.Equal(t, "SIGTERM", signal)
}

func TestNewRejectsEmpty(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
