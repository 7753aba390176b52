package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := newWithConsole(Config{Level: "debug", Console: true}, &buf)
	require.NoError(t, err)
	defer l.Close()

	log.Debug().Str("session_id", "abc").Msg("created")
	assert.Contains(t, buf.String(), `"session_id":"abc"`)
	assert.Equal(t, zerolog.DebugLevel, l.GetZerolog().GetLevel())
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l, err := newWithConsole(Config{Level: "chatty", Console: true}, &buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, l.GetZerolog().GetLevel())

	l2, err := newWithConsole(Config{Console: true}, &buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, l2.GetZerolog().GetLevel())
}

func TestNew_Redaction(t *testing.T) {
	var buf bytes.Buffer
	l, err := newWithConsole(Config{Level: "info", Console: true, Redaction: true}, &buf)
	require.NoError(t, err)
	require.NotNil(t, l.Redactor())

	log.Info().Str("url", "https://u:p@example.com/").Msg("probe")
	assert.NotContains(t, buf.String(), "u:p@")
	assert.Contains(t, buf.String(), "[REDACTED]")
}

func TestNew_FileSink(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "uxorbit.log")
	l, err := newWithConsole(Config{Level: "info", File: file, MaxSize: 1}, &bytes.Buffer{})
	require.NoError(t, err)

	log.Info().Msg("to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
}
