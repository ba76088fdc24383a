package config_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/keyward/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		expected config.LogLevel
	}{
		{"off lowercase", "off", config.LogLevelOff},
		{"off uppercase", "OFF", config.LogLevelOff},
		{"none", "none", config.LogLevelOff},
		{"error", "error", config.LogLevelError},
		{"warn", "warn", config.LogLevelWarn},
		{"warning", "Warning", config.LogLevelWarn},
		{"debug uppercase", "DEBUG", config.LogLevelDebug},
		{"with whitespace", "  debug  ", config.LogLevelDebug},
		{"invalid returns error", "invalid", config.LogLevelError},
		{"empty returns error", "", config.LogLevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, config.ParseLogLevel(tt.input))
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level    config.LogLevel
		expected string
	}{
		{config.LogLevelOff, "off"},
		{config.LogLevelError, "error"},
		{config.LogLevelWarn, "warn"},
		{config.LogLevelDebug, "debug"},
		{config.LogLevel(99), "error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.level.String())
	}
}

func logLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level    config.LogLevel
		expected []string
	}{
		{config.LogLevelOff, nil},
		{config.LogLevelError, []string{"error"}},
		{config.LogLevelWarn, []string{"warn", "error"}},
		{config.LogLevelDebug, []string{"debug", "warn", "error"}},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			logger := config.NewWriterLogger(tt.level, &buf)

			logger.Debug("d %d", 1)
			logger.Warn("w %d", 2)
			logger.Error("e %d", 3)

			var levels []string
			for _, entry := range logLines(t, buf.Bytes()) {
				levels = append(levels, entry["level"].(string))
			}
			assert.Equal(t, tt.expected, levels)
		})
	}
}

func TestLogger_MessageFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelDebug, &buf)

	logger.Debug("scanned %s index %d", "p2wsh", 7)

	entries := logLines(t, buf.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, "scanned p2wsh index 7", entries[0]["message"])
	assert.Contains(t, entries[0], "time")
}

func TestLogger_SetLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelError, &buf)

	logger.Debug("hidden")
	logger.SetLevel(config.LogLevelDebug)
	assert.Equal(t, config.LogLevelDebug, logger.Level())
	logger.Debug("shown")

	entries := logLines(t, buf.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0]["message"])
}

func TestLogger_Writer(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelWarn, &buf)

	_, err := fmt.Fprintln(logger.Writer(config.LogLevelWarn), "  from writer  ")
	require.NoError(t, err)
	_, err = fmt.Fprintln(logger.Writer(config.LogLevelDebug), "filtered")
	require.NoError(t, err)

	entries := logLines(t, buf.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, "from writer", entries[0]["message"])
}

func TestLogger_ConsoleOutput(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewConsoleLogger(config.LogLevelWarn, &buf)

	logger.Warn("fee rate unavailable")
	assert.Contains(t, buf.String(), "fee rate unavailable")
	assert.Contains(t, buf.String(), "WRN")
}

func TestNewLogger_LevelOffAndEmptyPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	off, err := config.NewLogger(config.LogLevelOff, filepath.Join(dir, "off.log"))
	require.NoError(t, err)
	off.Error("nothing")
	_, err = os.Stat(filepath.Join(dir, "off.log"))
	assert.True(t, os.IsNotExist(err))

	empty, err := config.NewLogger(config.LogLevelDebug, "")
	require.NoError(t, err)
	empty.Debug("nothing")
	require.NoError(t, empty.Close())
}

func TestNewLogger_FileOutput(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "keyward.log")

	logger, err := config.NewLogger(config.LogLevelDebug, path)
	require.NoError(t, err)
	logger.Error("recovery failed: %s", "no funds")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path) //nolint:gosec // test path
	require.NoError(t, err)
	entries := logLines(t, data)
	require.Len(t, entries, 1)
	assert.Equal(t, "recovery failed: no funds", entries[0]["message"])
}

func TestNewLogger_InvalidPath(t *testing.T) {
	t.Parallel()
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := config.NewLogger(config.LogLevelDebug, filepath.Join(blocker, "sub", "x.log"))
	require.Error(t, err)
}

func TestNullLogger(t *testing.T) {
	t.Parallel()
	logger := config.NullLogger()
	assert.Equal(t, config.LogLevelOff, logger.Level())
	logger.Debug("x")
	logger.Warn("x")
	logger.Error("x")
	require.NoError(t, logger.Close())
}

func TestLogger_Concurrent(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelDebug, &buf)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Debug("worker %d", n)
		}(i)
	}
	wg.Wait()

	assert.Len(t, logLines(t, buf.Bytes()), 20)
}
