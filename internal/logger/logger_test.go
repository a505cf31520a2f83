package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return &Logger{zlog: zerolog.New(buf).With().Timestamp().Logger()}
}

func TestNew_DevelopmentMode(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOptions(Options{Env: "development", Writer: &buf})

	require.NotNil(t, logger)
	assert.Equal(t, zerolog.DebugLevel, logger.GetZerolog().GetLevel())

	logger.Debug("pretty output", nil)
	assert.Contains(t, buf.String(), "pretty output")
}

func TestNew_ProductionMode(t *testing.T) {
	logger := New("production")

	require.NotNil(t, logger)
	assert.Equal(t, zerolog.InfoLevel, logger.GetZerolog().GetLevel())
}

func TestNewWithOptions_LevelOverride(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		level string
		want  zerolog.Level
	}{
		{name: "override in production", env: "production", level: "debug", want: zerolog.DebugLevel},
		{name: "override in development", env: "development", level: "WARN", want: zerolog.WarnLevel},
		{name: "unknown level falls back", env: "production", level: "chatty", want: zerolog.InfoLevel},
		{name: "empty level uses env default", env: "development", level: "", want: zerolog.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithOptions(Options{Env: tt.env, Level: tt.level, Writer: &buf})
			assert.Equal(t, tt.want, logger.GetZerolog().GetLevel())
		})
	}
}

func TestDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	logger.Debug("debug message", map[string]interface{}{
		"key1": "value1",
		"key2": 42,
	})

	output := buf.String()
	assert.Contains(t, output, "debug message")
	assert.Contains(t, output, "value1")
}

func TestInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	logger.Info("sheet parsed", map[string]interface{}{
		"sheet":    "RDO 43",
		"accepted": 120,
	})

	output := buf.String()
	assert.Contains(t, output, "sheet parsed")
	assert.Contains(t, output, "RDO 43")
}

func TestWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	logger.Warn("trigram extension unavailable", map[string]interface{}{
		"mode": "degraded",
	})

	output := buf.String()
	assert.Contains(t, output, "trigram extension unavailable")
	assert.Contains(t, output, "degraded")
}

func TestError(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	logger.Error("error occurred", errors.New("test error"), map[string]interface{}{
		"context": "database",
	})

	output := buf.String()
	assert.Contains(t, output, "error occurred")
	assert.Contains(t, output, "test error")
	assert.Contains(t, output, "database")
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	childLogger := logger.With(map[string]interface{}{
		"component": "ingestion",
		"file":      "rdo-43.xlsx",
	})
	childLogger.Info("test message", nil)

	output := buf.String()
	assert.Contains(t, output, "ingestion")
	assert.Contains(t, output, "rdo-43.xlsx")
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	logger.WithRequestID("req-12345").Info("request received", nil)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-12345", entry["request_id"])
}

func TestWithRun(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	logger.WithRun("run-1").Info("run started", nil)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run-1", entry["run_id"])
}

func TestLogLevels_Production(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOptions(Options{Env: "production", Writer: &buf})

	logger.Debug("debug message", nil)
	assert.NotContains(t, buf.String(), "debug message")

	logger.Info("info message", nil)
	assert.Contains(t, buf.String(), "info message")
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	logger.Info("test json", map[string]interface{}{"key": "value"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "test json", entry["message"])
	assert.Equal(t, "value", entry["key"])
}

func TestNop(t *testing.T) {
	logger := Nop()
	// Must not panic or write anywhere
	logger.Info("ignored", map[string]interface{}{"k": "v"})
	logger.Error("ignored", errors.New("x"), nil)
	assert.True(t, strings.HasPrefix(logger.GetZerolog().GetLevel().String(), "disabled"))
}
