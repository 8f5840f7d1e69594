package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	settings := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(settings, []byte(`
jira:
  url: https://jira.example.com/
  user: admin
shortcut:
  workflow: Engineering
projects: [DEMO, OPS]
`), 0o644))

	t.Setenv("JIRA_TOKEN", "secret")
	t.Setenv("SHORTCUT_TOKEN", "sc-token")
	t.Setenv("JIRA_USER", "env-user")

	cfg, err := LoadConfig(nil, settings)
	require.NoError(t, err)

	assert.Equal(t, "https://jira.example.com", cfg.JiraURL)
	assert.Equal(t, "env-user", cfg.JiraUser, "environment overrides the settings file")
	assert.Equal(t, "secret", cfg.JiraToken)
	assert.Equal(t, "sc-token", cfg.ShortcutToken)
	assert.Equal(t, "Engineering", cfg.ShortcutWorkflow)
	assert.Equal(t, DefaultShortcutEndpoint, cfg.ShortcutEndpoint)
	assert.Equal(t, []string{"DEMO", "OPS"}, cfg.Projects)
	assert.Equal(t, "mapping.yaml", cfg.MappingFile)
	assert.Equal(t, "migration_ledger.csv", cfg.LedgerCSV)
}

func TestLoadConfigProjectsFromEnv(t *testing.T) {
	t.Setenv("JIRA_PROJECTS", "DEMO, OPS ,")
	cfg, err := LoadConfig(nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"DEMO", "OPS"}, cfg.Projects)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(nil, filepath.Join(t.TempDir(), "nope.yaml"))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
}

func TestValidate(t *testing.T) {
	mapping := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(mapping, []byte("projects: {}\n"), 0o644))

	cfg := &Config{MappingFile: mapping}
	err := cfg.Validate(true)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), "JIRA_URL")
	assert.Contains(t, err.Error(), "SHORTCUT_TOKEN")

	cfg = &Config{JiraURL: "https://jira", JiraToken: "t", MappingFile: mapping}
	assert.NoError(t, cfg.Validate(false))
	assert.Error(t, cfg.Validate(true))

	cfg.ShortcutToken = "sc"
	assert.NoError(t, cfg.Validate(true))

	cfg.MappingFile = mapping + ".missing"
	assert.True(t, errors.As(cfg.Validate(true), &cfgErr))

	export := &Config{JiraExportFile: filepath.Join(t.TempDir(), "export.xml"), ShortcutToken: "sc", MappingFile: mapping}
	assert.Error(t, export.Validate(true), "export file must exist")
	require.NoError(t, os.WriteFile(export.JiraExportFile, []byte("<rss/>"), 0o644))
	assert.NoError(t, export.Validate(true))
}
