package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewJSONFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("log write failed", "bot", "echo")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	assert.Equal(t, "log write failed", m["msg"])
	assert.Equal(t, "echo", m["bot"])
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Format: "color"}, &buf)
	require.NoError(t, err)
	l.With("bot", "x").Error("boom")
	out := buf.String()
	// TextHandler quotes the control characters; check the pieces.
	assert.Contains(t, out, "[31mERROR")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "bot=x")
}

func TestUnknownFormat(t *testing.T) {
	_, err := New(Config{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestWriterUsesLumberjackForFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "botvisor.log")
	w := Config{File: file, MaxSizeMB: 5}.Writer()
	lw, ok := w.(*lj.Logger)
	require.True(t, ok)
	assert.Equal(t, 5, lw.MaxSize)
	assert.Equal(t, DefaultMaxBackups, lw.MaxBackups)

	_, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	b, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(b))
}

func TestWriterDefaultsToStderr(t *testing.T) {
	w := Config{}.Writer()
	assert.NoError(t, w.Close())
}
