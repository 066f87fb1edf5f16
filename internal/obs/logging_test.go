package obs

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "warn")
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"message":"shown"`)

	buf.Reset()
	logger = newLogger(&buf, "json", "disabled")
	logger.Error().Msg("nothing")
	require.Empty(t, buf.String())

	buf.Reset()
	logger = newLogger(&buf, "json", "bogus")
	logger.Info().Msg("fallback")
	require.Contains(t, buf.String(), "fallback")
}

func TestNewLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "console", "info")
	logger.Info().Str("stage", "ready").Msg("run finished")
	require.False(t, strings.HasPrefix(buf.String(), "{"))
	require.Contains(t, buf.String(), "run finished")
	require.Contains(t, buf.String(), "ready")
}

func TestSQLOperation(t *testing.T) {
	require.Equal(t, "UPDATE", sqlOperation("  update shipments set state = $3"))
	require.Equal(t, "UNKNOWN", sqlOperation("   "))
	require.Equal(t, "abc...", clip("abcdef", 3))
}
