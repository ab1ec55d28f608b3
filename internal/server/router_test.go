package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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
	"github.com/loykin/botvisor/internal/logsink"
	"github.com/loykin/botvisor/internal/registry"
	"github.com/loykin/botvisor/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	h   http.Handler
	sup *supervisor.Supervisor
	dir string
}

func setupRouter(t *testing.T, base string, opts ...Option) env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	reg, err := registry.Open(context.Background(), registry.NewMemory())
	require.NoError(t, err)
	sink, err := logsink.New(filepath.Join(dir, "logs"))
	require.NoError(t, err)
	sup, err := supervisor.New(supervisor.Options{Registry: reg, Sink: sink, DrainTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return env{h: NewRouter(sup, base, opts...).Handler(), sup: sup, dir: dir}
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
}

func TestAddAndList(t *testing.T) {
	e := setupRouter(t, "/api")
	rec := doReq(t, e.h, http.MethodPost, "/api/bots", map[string]string{
		"name": "echo", "path": e.dir, "startCommand": "echo hi",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	added := decode[map[string]any](t, rec)
	assert.Equal(t, true, added["ok"])
	assert.Equal(t, "custom", added["bot"].(map[string]any)["type"])

	rec = doReq(t, e.h, http.MethodGet, "/api/bots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]map[string]any](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "echo", list[0]["name"])
	assert.Equal(t, "echo hi", list[0]["startCommand"])
	assert.Equal(t, false, list[0]["running"])
	assert.NotContains(t, list[0], "pid")
}

func TestAddErrors(t *testing.T) {
	e := setupRouter(t, "/api")
	rec := doReq(t, e.h, http.MethodPost, "/api/bots", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResp](t, rec).Error, "path")

	req := httptest.NewRequest(http.MethodPost, "/api/bots", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	bad := httptest.NewRecorder()
	e.h.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	body := map[string]string{"name": "dup", "path": e.dir, "startCommand": "true"}
	require.Equal(t, http.StatusOK, doReq(t, e.h, http.MethodPost, "/api/bots", body).Code)
	rec = doReq(t, e.h, http.MethodPost, "/api/bots", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResp](t, rec).Error, "already exists")
}

func TestUnknownBot(t *testing.T) {
	e := setupRouter(t, "/api")
	assert.Equal(t, http.StatusNotFound, doReq(t, e.h, http.MethodPost, "/api/bots/ghost/start", nil).Code)
	assert.Equal(t, http.StatusNotFound, doReq(t, e.h, http.MethodDelete, "/api/bots/ghost", nil).Code)
	assert.Equal(t, http.StatusConflict, doReq(t, e.h, http.MethodPost, "/api/bots/ghost/stop", nil).Code)

	rec := doReq(t, e.h, http.MethodGet, "/api/bots/ghost/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", decode[logsResp](t, rec).Logs)
}

func TestLifecycle(t *testing.T) {
	requireUnix(t)
	e := setupRouter(t, "/api")
	body := map[string]string{"name": "sleeper", "type": "custom", "path": e.dir, "startCommand": "echo up; sleep 30"}
	require.Equal(t, http.StatusOK, doReq(t, e.h, http.MethodPost, "/api/bots", body).Code)

	require.Equal(t, http.StatusOK, doReq(t, e.h, http.MethodPost, "/api/bots/sleeper/start", nil).Code)
	rec := doReq(t, e.h, http.MethodPost, "/api/bots/sleeper/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[errorResp](t, rec).Error, "already running")

	list := decode[[]map[string]any](t, doReq(t, e.h, http.MethodGet, "/api/bots", nil))
	require.Len(t, list, 1)
	assert.Equal(t, true, list[0]["running"])
	assert.NotZero(t, list[0]["pid"])

	require.Equal(t, http.StatusOK, doReq(t, e.h, http.MethodPost, "/api/bots/sleeper/stop", nil).Code)
	assert.Equal(t, http.StatusConflict, doReq(t, e.h, http.MethodPost, "/api/bots/sleeper/stop", nil).Code)

	require.Eventually(t, func() bool {
		rec := doReq(t, e.h, http.MethodGet, "/api/bots/sleeper/logs", nil)
		return strings.Contains(decode[logsResp](t, rec).Logs, "signal=SIGTERM")
	}, 10*time.Second, 20*time.Millisecond)

	rec = doReq(t, e.h, http.MethodGet, "/api/bots/sleeper/logs?bytes=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[logsResp](t, rec).Logs, 10)

	require.Equal(t, http.StatusOK, doReq(t, e.h, http.MethodDelete, "/api/bots/sleeper", nil).Code)
	assert.Empty(t, decode[[]map[string]any](t, doReq(t, e.h, http.MethodGet, "/api/bots", nil)))
}

func TestStartSpawnFailure(t *testing.T) {
	requireUnix(t)
	e := setupRouter(t, "/api")
	body := map[string]string{"name": "lost", "path": filepath.Join(e.dir, "missing"), "startCommand": "true"}
	require.Equal(t, http.StatusOK, doReq(t, e.h, http.MethodPost, "/api/bots", body).Code)
	rec := doReq(t, e.h, http.MethodPost, "/api/bots/lost/start", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[errorResp](t, rec).Error, "spawn")
}

func TestLogsBadQuery(t *testing.T) {
	e := setupRouter(t, "")
	assert.Equal(t, http.StatusBadRequest, doReq(t, e.h, http.MethodGet, "/bots/x/logs?bytes=abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doReq(t, e.h, http.MethodGet, "/bots/x/logs?bytes=-1", nil).Code)
}

func TestMetricsAndUI(t *testing.T) {
	ui := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ui, "index.html"), []byte("<h1>panel</h1>"), 0o600))
	e := setupRouter(t, "/api", WithUIDir(ui))

	rec := doReq(t, e.h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "panel")

	rec = doReq(t, e.h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	noMetrics := setupRouter(t, "/api", WithMetricsHandler(nil))
	assert.Equal(t, http.StatusNotFound, doReq(t, noMetrics.h, http.MethodGet, "/metrics", nil).Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&supervisor.ConfigError{Name: "x", Err: errors.New("bad")}, http.StatusBadRequest},
		{fmt.Errorf("%w: x", supervisor.ErrBotExists), http.StatusBadRequest},
		{fmt.Errorf("%w: x", supervisor.ErrBotNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", supervisor.ErrAlreadyRunning), http.StatusConflict},
		{fmt.Errorf("%w: x", supervisor.ErrNotRunning), http.StatusConflict},
		{supervisor.ErrShuttingDown, http.StatusServiceUnavailable},
		{&supervisor.SpawnError{Name: "x", Err: errors.New("enoent")}, http.StatusInternalServerError},
		{&supervisor.SignalError{Name: "x", Err: errors.New("eperm")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestSanitizeBase(t *testing.T) {
	assert.Equal(t, "", sanitizeBase(" / "))
	assert.Equal(t, "/api", sanitizeBase("api/"))
	assert.Equal(t, "/a/b", sanitizeBase("/a/b//"))
}

func TestAuthProtectsRoutes(t *testing.T) {
	hash, err := auth.HashPassword("pw")
	require.NoError(t, err)
	svc, err := auth.NewService(auth.Config{
		Enabled:   true,
		JWTSecret: "router-test",
		Users: []auth.User{
			{Username: "admin", PasswordHash: hash, Roles: []string{"admin"}},
			{Username: "watcher", PasswordHash: hash, Roles: []string{"viewer"}},
		},
	})
	require.NoError(t, err)
	e := setupRouter(t, "/api", WithAuth(auth.NewMiddleware(svc)))

	assert.Equal(t, http.StatusUnauthorized, doReq(t, e.h, http.MethodGet, "/api/bots", nil).Code)

	rec := doReq(t, e.h, http.MethodPost, "/api/auth/login", map[string]string{"method": "basic", "username": "watcher", "password": "pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decode[auth.AuthResult](t, rec)
	require.NotNil(t, login.Token)

	withToken := func(method, path string, body any) int {
		var rdr io.Reader
		if body != nil {
			b, _ := json.Marshal(body)
			rdr = bytes.NewReader(b)
		}
		req := httptest.NewRequest(method, path, rdr)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+login.Token.Value)
		rec := httptest.NewRecorder()
		e.h.ServeHTTP(rec, req)
		return rec.Code
	}
	bot := map[string]string{"name": "guarded", "path": e.dir, "startCommand": "true"}
	assert.Equal(t, http.StatusOK, withToken(http.MethodGet, "/api/bots", nil))
	assert.Equal(t, http.StatusForbidden, withToken(http.MethodPost, "/api/bots", bot))
	assert.Equal(t, http.StatusForbidden, withToken(http.MethodPost, "/api/bots/guarded/start", nil))

	b, _ := json.Marshal(bot)
	req := httptest.NewRequest(http.MethodPost, "/api/bots", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("admin", "pw")
	admin := httptest.NewRecorder()
	e.h.ServeHTTP(admin, req)
	assert.Equal(t, http.StatusOK, admin.Code, admin.Body.String())

	rec = doReq(t, e.h, http.MethodPost, "/api/auth/login", map[string]string{"method": "basic", "username": "watcher", "password": "bad"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	open := setupRouter(t, "/api")
	assert.Equal(t, http.StatusNotFound, doReq(t, open.h, http.MethodPost, "/api/auth/login", nil).Code)
}
