package observability

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerConfigFromEnv(t *testing.T) {
	t.Setenv(EnvDebug, "1")
	t.Setenv(EnvDebugFile, "/tmp/x.log")
	cfg := LoggerConfigFromEnv(LoggerConfig{Level: logger.LevelWarning})
	assert.Equal(t, logger.LevelDebug, cfg.Level)
	assert.Equal(t, "/tmp/x.log", cfg.File)

	// an explicit trace level is not lowered
	cfg = LoggerConfigFromEnv(LoggerConfig{Level: logger.LevelTrace, File: "/a"})
	assert.Equal(t, logger.LevelTrace, cfg.Level)
	assert.Equal(t, "/a", cfg.File)
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	var buf bytes.Buffer
	l, closer, err := NewLogger(LoggerConfig{Level: logger.LevelDebug, File: path, Output: &buf})
	require.NoError(t, err)

	ctx := WithLogger(context.Background(), l)
	logger.Debugf(ctx, "hello %d", 42)
	logger.Tracef(ctx, "invisible")
	Flush(ctx)
	require.NoError(t, closer.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(got), "hello 42")
	assert.NotContains(t, string(got), "invisible")
	assert.Contains(t, buf.String(), "hello 42")
	// not a terminal, so no escape codes
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestNewLoggerBadFile(t *testing.T) {
	_, _, err := NewLogger(LoggerConfig{File: filepath.Join(t.TempDir(), "missing", "log.txt"), Output: io.Discard})
	require.Error(t, err)
}

func TestCallSafeRecovers(t *testing.T) {
	l, _, err := NewLogger(LoggerConfig{Level: logger.LevelError, Output: io.Discard})
	require.NoError(t, err)
	ctx := logger.CtxWithLogger(context.Background(), l)

	ran := false
	assert.NotPanics(t, func() {
		CallSafe(ctx, func() {
			ran = true
			panic("boom")
		})
	})
	assert.True(t, ran)
	assert.Panics(t, func() {
		Call(ctx, func() { panic("boom") })
	})
}

func TestServe(t *testing.T) {
	l, _, err := NewLogger(LoggerConfig{Level: logger.LevelDebug, Output: io.Discard})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(logger.CtxWithLogger(context.Background(), l))

	addr, done, err := Serve(ctx, "127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "ok", strings.TrimSpace(string(body)))

	cancel()
	require.NoError(t, <-done)
}
