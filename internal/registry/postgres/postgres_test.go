package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/loykin/botvisor/internal/bot"
	"github.com/loykin/botvisor/internal/registry/storetest"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// startPostgresContainer starts a PostgreSQL container and returns a DSN for
// pgx stdlib. It skips the test if Docker is unavailable.
func startPostgresContainer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test skipped in -short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Skipf("Failed to get host info: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Skipf("Failed to get mapped port: %v", err)
	}
	return fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
}

func waitForPostgres(t *testing.T, dsn string) {
	// the container can report ready before the server accepts connections
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := startPostgresContainer(t)
	waitForPostgres(t, dsn)

	db, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))
	require.NoError(t, db.Ping(ctx))

	storetest.Run(t, db)

	// a second schema pass must keep existing rows
	require.NoError(t, db.SaveAll(ctx, map[string]bot.Definition{
		"x": {Name: "x", Category: "custom", Path: "/tmp", StartCommand: "true"},
	}))
	require.NoError(t, db.EnsureSchema(ctx))
	defs, err := db.LoadAll(ctx)
	require.NoError(t, err)
	require.Contains(t, defs, "x")
}
