package botvisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/botvisor/internal/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	t.Setenv("PORT", "")
	dir := t.TempDir()
	p := filepath.Join(dir, "botvisor.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestOpenRunsBotsAndPersists(t *testing.T) {
	requireUnix(t)
	file := writeConfig(t, `
[registry]
type = "json"
path = "bots.json"

[logs]
dir = "logs"
`)
	cfg, err := LoadConfig(file)
	require.NoError(t, err)

	ctx := context.Background()
	app, err := Open(ctx, cfg)
	require.NoError(t, err)

	d, err := app.Add(ctx, Definition{Name: "hello", Path: t.TempDir(), StartCommand: "echo hello; sleep 30"})
	require.NoError(t, err)
	assert.Equal(t, "custom", d.Category)
	require.NoError(t, app.Start(ctx, "hello"))
	assert.ErrorIs(t, app.Start(ctx, "hello"), ErrAlreadyRunning)
	require.Eventually(t, func() bool {
		b, err := app.Logs("hello", 0)
		return err == nil && strings.Contains(string(b), "[STDOUT") && strings.Contains(string(b), "hello")
	}, 5*time.Second, 20*time.Millisecond)

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, app.Close(cctx))
	assert.FileExists(t, filepath.Join(filepath.Dir(file), "logs", "hello.log"))

	again, err := Open(ctx, cfg)
	require.NoError(t, err)
	st, err := again.Get("hello")
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Equal(t, "echo hello; sleep 30", st.StartCommand)
	b, err := again.Logs("hello", 0)
	require.NoError(t, err)
	assert.Contains(t, string(b), "[EXIT")
	require.NoError(t, again.Close(cctx))
}

func TestHandlerServesAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	file := writeConfig(t, `
[server]
base_path = "/v1"
[registry]
type = "sqlite"
path = "bots.db"
`)
	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	app, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = app.Close(context.Background()) }()

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/bots", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list)

	srv, err := app.NewHTTPServer()
	require.NoError(t, err)
	assert.Equal(t, cfg.Server.Listen, srv.Addr)
	assert.Nil(t, srv.TLSConfig)
}

func TestServeStopsOnCancel(t *testing.T) {
	requireUnix(t)
	file := writeConfig(t, `
[server]
listen = "127.0.0.1:0"
[shutdown]
grace = "5s"
`)
	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	app, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	_, err = app.Add(context.Background(), Definition{Name: "loop", Path: t.TempDir(), StartCommand: "sleep 30"})
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background(), "loop"))

	srv, err := app.NewHTTPServer()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, srv) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.False(t, app.IsRunning("loop"))
	assert.ErrorIs(t, app.Start(context.Background(), "loop"), ErrShuttingDown)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(context.Background(), nil)
	assert.Error(t, err)

	file := writeConfig(t, `
[registry]
type = "etcd"
`)
	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	_, err = Open(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRegisterMetricsFacade(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg))
	require.NoError(t, RegisterMetrics(reg))
}

func TestHistoryExportedToSQLite(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	file := writeConfig(t, `
[history]
sinks = ["sqlite://`+filepath.Join(dir, "history.db")+`"]
`)
	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	ctx := context.Background()
	app, err := Open(ctx, cfg)
	require.NoError(t, err)
	_, err = app.Add(ctx, Definition{Name: "once", Path: dir, StartCommand: "true"})
	require.NoError(t, err)
	require.NoError(t, app.Start(ctx, "once"))
	require.Eventually(t, func() bool {
		b, _ := app.Logs("once", 0)
		return strings.Contains(string(b), "[EXIT")
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, app.Close(ctx))
	assert.FileExists(t, filepath.Join(dir, "history.db"))
}

func TestScheduledStart(t *testing.T) {
	requireUnix(t)
	file := writeConfig(t, `
[[schedules]]
bot = "tick"
schedule = "@every 1s"
`)
	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	ctx := context.Background()
	app, err := Open(ctx, cfg)
	require.NoError(t, err)
	_, err = app.Add(ctx, Definition{Name: "tick", Path: t.TempDir(), StartCommand: "echo tick"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b, _ := app.Logs("tick", 0)
		return strings.Count(string(b), "[EXIT") >= 2
	}, 10*time.Second, 20*time.Millisecond)

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, app.Close(cctx))
}

func TestHandlerRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	file := writeConfig(t, "")
	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	hash, err := auth.HashPassword("pw")
	require.NoError(t, err)
	cfg.Server.Auth = auth.Config{
		Enabled:   true,
		JWTSecret: "facade-test",
		Users:     []auth.User{{Username: "ops", PasswordHash: hash, Roles: []string{"viewer"}}},
	}
	app, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = app.Close(context.Background()) }()

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bots", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/bots", nil)
	req.SetBasicAuth("ops", "pw")
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	cfg.Server.Auth.JWTSecret = ""
	_, err = Open(context.Background(), cfg)
	assert.ErrorIs(t, err, auth.ErrNoSecret)
}
