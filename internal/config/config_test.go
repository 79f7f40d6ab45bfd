package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Daemon.PollIntervalSeconds)
	assert.Equal(t, 3600, cfg.Daemon.DreamIntervalSeconds)
	assert.Equal(t, "bedrock", cfg.Provider.Default)
	assert.Equal(t, []string{"claude-code"}, cfg.Enabled.Connectors)
	assert.Equal(t, 7, cfg.Dreaming.InitialLookbackDays)
}

func TestLoad_PartialDocumentFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  default: anthropic
enabled:
  connectors:
    - claude-code
    - vscode
`), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Provider.Default)
	assert.Equal(t, []string{"claude-code", "vscode"}, cfg.Enabled.Connectors)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Provider.Anthropic.Model)
	assert.Equal(t, 7777, cfg.API.Port)
}

func TestLoad_IncludeMerge(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(`
daemon:
  log_level: DEBUG
provider:
  bedrock:
    region: us-west-2
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
$include: base.yaml
provider:
  default: bedrock
`), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Daemon.LogLevel)
	assert.Equal(t, "us-west-2", cfg.Provider.Bedrock.Region)
	assert.Equal(t, "bedrock", cfg.Provider.Default)
}

func TestLoad_InvalidProviderRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
provider:
  default: openai
`), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	var verr *ConfigValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "provider.default")
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
daemon:
  not_a_real_field: true
`), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GOOD_NIGHT_PROVIDER", "anthropic")
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Provider.Default)
}

func TestDurationAccessors(t *testing.T) {
	d := DaemonSettings{PollIntervalSeconds: 60, DreamIntervalSeconds: 3600}
	assert.Equal(t, 60_000_000_000, int(d.PollInterval()))
	assert.Equal(t, 3_600_000_000_000, int(d.DreamInterval()))
}
