package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console output goes to the configured writer", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Console: true, Output: &buf})
		require.NoError(t, err)
		defer logger.Close()

		log.Info().Str("command", "get_project_info").Msg("dispatched")

		assert.Contains(t, buf.String(), `"command":"get_project_info"`)
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "resolvemcp.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		zl := logger.GetZerolog()
		zl.Debug().Msg("test message")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "test message")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "chatty", Console: true, Output: &buf})
		require.NoError(t, err)

		zl := logger.GetZerolog()
		zl.Debug().Msg("hidden")
		zl.Info().Msg("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("redaction", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Console: true, Output: &buf, Redaction: true})
		require.NoError(t, err)
		assert.NotNil(t, logger.redactor)

		log.Info().Msg("dialing ws://admin:hunter2@localhost:9876")

		assert.NotContains(t, buf.String(), "hunter2")
	})
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Console: true, Output: &buf})
	require.NoError(t, err)

	require.NoError(t, logger.SetLevel("debug"))
	log.Debug().Msg("now visible")
	assert.Contains(t, buf.String(), "now visible")

	assert.Error(t, logger.SetLevel("loud"))
}

func TestRedact(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name     string
		input    string
		contains string
		absent   string
	}{
		{"bearer", "Authorization: Bearer abc.def-123", "[REDACTED]", "abc.def-123"},
		{"json token", `{"token":"s3cr3t-value"}`, `"token":"[REDACTED]`, "s3cr3t-value"},
		{"api key", "api_key=sk_live_123", "api_key=[REDACTED]", "sk_live_123"},
		{"url credentials", "ws://user:pw@host/resolve", "://[REDACTED]@host", "user:pw"},
		{"plain text", "timeline created", "timeline created", "[REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Redact(tt.input)
			assert.Contains(t, out, tt.contains)
			assert.NotContains(t, out, tt.absent)
		})
	}
}

func TestAddPattern(t *testing.T) {
	r := NewRedactor()
	require.NoError(t, r.AddPattern(`clip-\d+`))
	assert.Equal(t, "import [REDACTED]", r.Redact("import clip-42"))

	assert.Error(t, r.AddPattern(`(`))
}
