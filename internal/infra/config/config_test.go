package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesAndKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents_file: fleet.json
memory:
  enabled: false
orchestrator:
  use_delegation: false
  cooldown: 45s
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fleet.json", cfg.AgentsFile)
	assert.False(t, cfg.Memory.Enabled)
	assert.False(t, Bool(cfg.Orchestrator.UseDelegation, true))
	assert.Equal(t, "45s", cfg.Orchestrator.Cooldown)
	// Untouched fields keep their defaults.
	assert.True(t, Bool(cfg.Orchestrator.UseMemory, false))
	assert.Equal(t, uint32(2), cfg.Orchestrator.FailureThreshold)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger: ["), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestBool(t *testing.T) {
	on := true
	off := false
	assert.True(t, Bool(nil, true))
	assert.False(t, Bool(nil, false))
	assert.True(t, Bool(&on, false))
	assert.False(t, Bool(&off, true))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, Duration("", 30*time.Second))
	assert.Equal(t, 45*time.Second, Duration("45s", 30*time.Second))
	assert.Equal(t, 2*time.Minute, Duration("2m", time.Second))
	assert.Equal(t, time.Second, Duration("not a duration", time.Second))
}
