package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/manifold/qmux/golang/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zap.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zap.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zap.InfoLevel, ParseLevel(""))
}

func TestFileOutput(t *testing.T) {
	for _, rotate := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "logs", "qmux.log")
		log, err := New(config.LogConfig{
			Level:    "debug",
			Format:   "json",
			Outputs:  []string{path},
			Rotation: config.RotationConfig{Enable: rotate, MaxSizeMB: 1},
		})
		require.NoError(t, err)

		log.Debug("channel opened", zap.Uint32("channel", 3))
		require.NoError(t, log.Sync())

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(b), `"msg":"channel opened"`)
		assert.Contains(t, string(b), `"channel":3`)
	}
}

func TestLevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qmux.log")
	log, err := New(config.LogConfig{Level: "warn", Format: "console", Outputs: []string{path}})
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown")
	require.NoError(t, log.Sync())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hidden")
	assert.Contains(t, string(b), "shown")
}
