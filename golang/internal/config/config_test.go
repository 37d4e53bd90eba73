package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifold/qmux/golang/mux"
)

func writeFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "qmux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QMUX_CONFIG", "")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
transport: ws
listen: 127.0.0.1:7000
metrics: 127.0.0.1:9100
mux:
  window: 65536
  max_packet: 1024
log:
  level: debug
  format: json
  outputs: [stdout]
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "ws", cfg.Transport)
	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics)
	assert.Equal(t, uint32(65536), cfg.Mux.WindowSize)
	assert.Equal(t, uint32(1024), cfg.Mux.MaxPacketSize)
	assert.Equal(t, mux.AcceptBacklogDefault, cfg.Mux.AcceptBacklog)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"stdout"}, cfg.Log.Outputs)

	mc := cfg.MuxConfig(nil)
	assert.Equal(t, uint32(65536), mc.WindowSize)
	assert.Nil(t, mc.Logger)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, "log:\n  level: warn\nmux:\n  window: 100\n")
	t.Setenv("QMUX_LOG_LEVEL", "error")
	t.Setenv("QMUX_MUX_WINDOW", "200")

	cfg, err := Load(path, map[string]interface{}{"mux.window": uint32(300)})
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, uint32(300), cfg.Mux.WindowSize)

	t.Setenv("QMUX_CONFIG", path)
	cfg, err = Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(200), cfg.Mux.WindowSize)
}

func TestLoadInvalid(t *testing.T) {
	for name, content := range map[string]string{
		"transport":  "transport: quic\n",
		"level":      "log:\n  level: loud\n",
		"max packet": "mux:\n  max_packet: 4\n",
		"yaml":       "mux: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, content), nil)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}
