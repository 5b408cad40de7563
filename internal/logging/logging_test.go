package logging

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesRotatingFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "papermarket.log")

	logger := NewLoggerWithConfig(LogConfig{
		Level:    "debug",
		Console:  true,
		File:     true,
		FilePath: path,
		MaxSize:  1,
		Out:      &console,
	})
	defer SetInfoLevel()

	LogOrder(logger, "u1", 7, "TCS", "BUY", "EXECUTED")
	assert.Contains(t, console.String(), "Order update")
	assert.Contains(t, console.String(), "order_id=7")
	assert.FileExists(t, path)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
}

func TestLoggerContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := WithLogger(context.Background(), WithUser(logger, "alice"))

	got := FromContext(ctx)
	got.Info().Msg("hello")
	require.Contains(t, buf.String(), `"user":"alice"`)

	// No logger in context falls back to a no-op logger.
	nop := FromContext(context.Background())
	nop.Info().Msg("dropped")
}
