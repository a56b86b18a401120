package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.WatchdogTimeoutMs)
	assert.Equal(t, 2000, cfg.PingPeriodMs)
	assert.Equal(t, 1, cfg.Escalation.WarmReset)
	assert.Equal(t, 2, cfg.Escalation.ColdReset)
	assert.True(t, cfg.Cla.EnableFmmo)
	assert.Equal(t, "0", cfg.InstanceID)
}

func TestLoadEmptyPathFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/run/cmrmd/cla.sock", cfg.ClientSocket)
}

func TestLoadOverridesSelectedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
watchdog_timeout_ms: 1500
cla:
  enable_fmmo: false
escalation:
  cold_reset: 4
instance_id: "3"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1500, cfg.WatchdogTimeoutMs)
	assert.False(t, cfg.Cla.EnableFmmo)
	assert.Equal(t, 4, cfg.Escalation.ColdReset)
	assert.Equal(t, "3", cfg.InstanceID)

	// Keys left unset in the file keep their builtin defaults.
	assert.Equal(t, 2000, cfg.PingPeriodMs)
	assert.Equal(t, 1, cfg.Escalation.WarmReset)
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.WatchdogTimeout())
	assert.Equal(t, 2*time.Second, cfg.PingPeriod())
	assert.Equal(t, 300*time.Second, cfg.StabilityTimeout())
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("watchdog_timeout_ms: [1, 2"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
