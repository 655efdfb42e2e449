package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverlaysFileOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tick_period: 10ms\nbiotech:\n  ticker: FOO\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "FOO", cfg.Biotech.Ticker)
	assert.Equal(t, Default().TotalSteps, cfg.TotalSteps, "fields absent from the file must keep their defaults")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("biotech:\n  ticker: FOO\n"), 0o644))

	t.Setenv("MKTSIM_BIOTECH_TICKER", "BAR")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "BAR", cfg.Biotech.Ticker, "environment overrides must win over the config file")
}

func TestValidateRejectsBadVolumeRange(t *testing.T) {
	cfg := Default()
	cfg.Biotech.VolMin = 10
	cfg.Biotech.VolMax = 5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroTotalSteps(t *testing.T) {
	cfg := Default()
	cfg.TotalSteps = 0
	assert.Error(t, cfg.Validate())
}
