package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/ballphys/internal/core/observability/log"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, log.LevelInfo, c.Level())
	assert.Equal(t, time.Second/60, c.FrameDuration())
}

func TestLoadYAML(t *testing.T) {
	const doc = `
log_level: debug
arena: {x: 12, y: 8, z: 3}
offload:
  mode: pool
  workers: 3
stream:
  enabled: true
  address: "127.0.0.1:0"
  write_timeout: 500ms
physics:
  enabled: true
  gravity: [0, -9.8, 0]
`
	c, err := LoadYAML(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, log.LevelDebug, c.Level())
	assert.Equal(t, ArenaConfig{X: 12, Y: 8, Z: 3}, c.Arena)
	assert.Equal(t, OffloadPool, c.Offload.Mode)
	assert.Equal(t, 3, c.Offload.Workers)
	assert.Equal(t, 500*time.Millisecond, c.Stream.WriteTimeout)
	assert.Equal(t, [3]float64{0, -9.8, 0}, c.Physics.Gravity)

	// untouched sections keep their defaults
	assert.Equal(t, 60, c.Loop.FrameRate)
	assert.Equal(t, 256, c.Offload.RingCapacity)
	assert.Equal(t, "/frames", c.Stream.Path)
}

func TestLoadYAML_Empty(t *testing.T) {
	c, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadYAML_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"Unknown Field", "arena: {x: 1, y: 1, z: 1, w: 2}"},
		{"Bad Mode", "offload: {mode: gpu}"},
		{"Bad Arena", "arena: {x: 0, y: 1, z: 1}"},
		{"Bad Ring", "offload: {mode: ring, ring_size: 0}"},
		{"Stream Without Address", "stream: {enabled: true, address: ''}"},
		{"Malformed", "arena: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := LoadYAML(strings.NewReader(tt.doc))
			require.Error(t, err)
			require.Nil(t, c)
		})
	}
}

func TestValidate_ReportsEveryField(t *testing.T) {
	c := Default()
	c.LogLevel = "loud"
	c.Loop.FrameRate = 0
	c.Offload.Workers = -1

	err := c.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "frame_rate")
	assert.Contains(t, err.Error(), "workers")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "sim.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("loop: {balls: 10}\n"), 0o600))
	c, err := LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 10, c.Loop.Balls)

	jsonPath := filepath.Join(dir, "sim.JSON")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"offload": {"mode": "sync"}}`), 0o600))
	c, err = LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, OffloadSync, c.Offload.Mode)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
