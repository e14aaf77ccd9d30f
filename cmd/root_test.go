package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/micrelay/internal/config"
)

func TestSetupLogging_File(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	file := filepath.Join(t.TempDir(), "logs", "micrelay.log")
	setupLogging(0, config.LogConfig{Level: "warn", File: file, MaxSizeMB: 1})

	slog.Info("hidden message")
	slog.Warn("visible message")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "visible message")
	assert.NotContains(t, string(data), "hidden message")
}

func TestSetupLogging_VerboseOverridesLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	setupLogging(1, config.LogConfig{Level: "error"})
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))

	setupLogging(0, config.LogConfig{Level: "error"})
	assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelWarn))
}

func TestGetInheritanceIndicator(t *testing.T) {
	assert.Equal(t, "[inherited]", getInheritanceIndicator(config.Inherited))
	assert.Equal(t, "[profile-specific]", getInheritanceIndicator(config.ProfileSpecific))
	assert.Equal(t, "[built-in]", getInheritanceIndicator(config.BuiltIn))
	assert.Equal(t, "[unknown]", getInheritanceIndicator(""))
}
