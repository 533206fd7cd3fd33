package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gopher0727/KaifLake/config"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNewLogger(t *testing.T) {
	t.Run("stdout console", func(t *testing.T) {
		l, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "console", Output: "stdout"})
		require.NoError(t, err)
		l.Debug("hello")
		assert.NoError(t, l.Close())
	})

	t.Run("file output creates directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "app.log")
		l, err := NewLogger(&config.LoggingConfig{Level: "info", Format: "json", Output: "file", FilePath: path})
		require.NoError(t, err)

		l.Info("chat created", zap.String("chat_id", "42"))
		l.Debug("filtered out")
		require.NoError(t, l.Close())

		entries := readLines(t, path)
		require.Len(t, entries, 1)
		assert.Equal(t, "chat created", entries[0]["message"])
		assert.Equal(t, "42", entries[0]["chat_id"])
		assert.Equal(t, "info", entries[0]["level"])
	})

	t.Run("file output needs a path", func(t *testing.T) {
		_, err := NewLogger(&config.LoggingConfig{Level: "info", Output: "file"})
		assert.Error(t, err)
	})

	t.Run("unknown level", func(t *testing.T) {
		_, err := NewLogger(&config.LoggingConfig{Level: "verbose", Output: "stdout"})
		assert.Error(t, err)
	})
}

func TestLogger_WithContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.log")
	l, err := NewLogger(&config.LoggingConfig{Level: "info", Format: "json", Output: "file", FilePath: path})
	require.NoError(t, err)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUserID(ctx, "1001")
	l.InfoContext(ctx, "with ids")
	l.WithContext(context.Background()).Info("without ids")
	l.Named("chat").Warn("named", zap.Int("n", 3))
	require.NoError(t, l.Close())

	entries := readLines(t, path)
	require.Len(t, entries, 3)

	assert.Equal(t, "trace-1", entries[0]["trace_id"])
	assert.Equal(t, "1001", entries[0]["user_id"])

	_, hasTrace := entries[1]["trace_id"]
	assert.False(t, hasTrace)

	assert.Equal(t, "chat", entries[2]["logger"])
	assert.EqualValues(t, 3, entries[2]["n"])
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"debug", "debug", false},
		{"", "info", false},
		{"WARN", "warn", false},
		{"error", "error", false},
		{"loud", "info", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lvl, err := parseLogLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, lvl.String())
		})
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.ErrorContext(context.Background(), "dropped")
	assert.NoError(t, l.Close())
}
