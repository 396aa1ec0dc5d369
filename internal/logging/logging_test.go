package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bavix/btscan/internal/logging"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{name: "debug", level: "debug", want: zerolog.DebugLevel},
		{name: "trace", level: "trace", want: zerolog.TraceLevel},
		{name: "warn", level: "warn", want: zerolog.WarnLevel},
		{name: "error", level: "error", want: zerolog.ErrorLevel},
		{name: "uppercase", level: "DEBUG", want: zerolog.DebugLevel},
		{name: "whitespace", level: " warn ", want: zerolog.WarnLevel},
		{name: "empty", level: "", want: zerolog.InfoLevel},
		{name: "invalid", level: "verbose", want: zerolog.InfoLevel},
		{name: "unicode", level: "дебаг", want: zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, logging.ParseLevel(tt.level))
		})
	}
}

func TestNew_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := logging.New(&buf, "btscan", "info", "json")
	logger.Debug().Msg("hidden")
	logger.Info().Str("address", "00:1A:7D:DA:71:13").Msg("device found")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "btscan", entry["app"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "device found", entry["message"])
	assert.Equal(t, "00:1A:7D:DA:71:13", entry["address"])
	assert.Contains(t, entry, "time")
}

func TestNew_Console(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := logging.New(&buf, "btscan", "debug", "Console")
	logger.Debug().Msg("discovery started")

	out := buf.String()
	assert.Contains(t, out, "discovery started")
	assert.NotContains(t, out, "\x1b[", "no colors off a terminal")
	assert.False(t, json.Valid(buf.Bytes()))
}

func TestBase(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"json", "console", ""} {
		logger := logging.Base("test", "error", format)
		assert.Equal(t, zerolog.ErrorLevel, logger.GetLevel())
	}
}
