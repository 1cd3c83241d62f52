package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{" Info ", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"none", LevelNone},
		{"off", LevelNone},
		{"invalid", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestParseLevelStrict(t *testing.T) {
	level, err := ParseLevelStrict("warn")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, level)

	_, err = ParseLevelStrict("verbose")
	assert.Error(t, err)
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "NONE", LevelNone.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}

func TestNewLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "test.log")

	l, err := New(LevelInfo, logPath, "test")
	require.NoError(t, err)

	l.Info("test message %d", 1)
	l.Debug("should not appear")
	require.NoError(t, l.Close())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)

	assert.Contains(t, string(content), "[INFO] [test] test message 1")
	assert.NotContains(t, string(content), "should not appear")

	// writes after close are dropped
	l.Error("after close")
	content, err = os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "after close")
}

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(LevelDebug, &buf, "")

	l.Debug("one")
	l.Warn("two\n")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[DEBUG] one")
	assert.Contains(t, lines[1], "[WARN] two")
}

func TestLoggerWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWithWriter(LevelInfo, &buf, "parent")
	child := parent.WithPrefix("child")

	child.Info("test message")
	assert.Contains(t, buf.String(), "[parent:child] test message")

	// children share the level of their parent
	parent.SetLevel(LevelError)
	child.Info("hidden")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Equal(t, LevelError, child.GetLevel())
}

func TestLoggerDisabled(t *testing.T) {
	l, err := New(LevelNone, "", "test")
	require.NoError(t, err)
	defer l.Close()

	assert.False(t, l.Enabled(LevelError))
	l.Debug("debug")
	l.Error("error")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(LevelInfo, &buf, "")

	l.Info("info1")
	l.Debug("debug1")
	l.SetLevel(LevelDebug)
	l.Info("info2")
	l.Debug("debug2")

	out := buf.String()
	assert.NotContains(t, out, "debug1")
	assert.Contains(t, out, "debug2")
	assert.Contains(t, out, "info1")
	assert.Contains(t, out, "info2")
}

func TestGlobalLogger(t *testing.T) {
	require.NotNil(t, Global())

	var buf bytes.Buffer
	prev := SetGlobal(NewWithWriter(LevelDebug, &buf, "global"))
	defer SetGlobal(prev)

	Debug("debug")
	Info("info")
	Warn("warn")
	Error("error")

	out := buf.String()
	for _, want := range []string{"[DEBUG] [global] debug", "[INFO] [global] info", "[WARN] [global] warn", "[ERROR] [global] error"} {
		assert.Contains(t, out, want)
	}
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(LevelInfo, &buf, "http")

	sl := Slog(l).With("component", "replay").WithGroup("req")
	sl.Debug("dropped")
	sl.Info("served", "path", "/session", "status", 200)
	sl.Error("failed", slog.Group("peer", "addr", "127.0.0.1:1"), "reason", "broken pipe")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "[INFO] [http] served component=replay req.path=/session req.status=200")
	assert.Contains(t, out, `[ERROR] [http] failed component=replay req.peer.addr=127.0.0.1:1 req.reason="broken pipe"`)

	assert.Nil(t, NewSlogHandler(nil))
}

func TestErrorLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(LevelWarn, &buf, "")

	ErrorLog(l).Printf("http: TLS handshake error from %s", "127.0.0.1")
	assert.Contains(t, buf.String(), "[ERROR] http: TLS handshake error from 127.0.0.1")
}
