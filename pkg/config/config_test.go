package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
defaults:
  backend: ollama
  num_ctx_tokens: 2048
database:
  enabled: true
  user: embd
elastic:
  url: http://localhost:9200
`)

	m := NewManager(path, nil)
	require.NoError(t, m.LoadConfig())
	cfg := m.GetConfig()

	assert.Equal(t, "ollama", cfg.Defaults.Backend)
	assert.Equal(t, 2048, cfg.Defaults.NumCtxTokens)
	assert.Equal(t, DefaultBatchSize, cfg.Defaults.BatchSize)
	assert.Equal(t, DefaultOllamaHost, cfg.Defaults.OllamaHost)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "embd", cfg.Database.User)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "http://localhost:9200", cfg.Elastic.URL)
	assert.Equal(t, DefaultElasticIndex, cfg.Elastic.Index)
}

func TestLoadConfigMissing(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, m.LoadConfig(), "an explicit path must exist")

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	var logged []string
	m = NewManager("", func(format string, args ...interface{}) { logged = append(logged, format) })
	require.NoError(t, m.LoadConfig())
	assert.Equal(t, Default(), m.GetConfig())
	assert.NotEmpty(t, logged)
}

func TestLoadConfigInvalid(t *testing.T) {
	m := NewManager(writeConfig(t, "defaults: [not, a, map]"), nil)
	assert.ErrorContains(t, m.LoadConfig(), "failed to parse config file")

	m = NewManager(writeConfig(t, "defaults:\n  batch_size: -1\n"), nil)
	assert.ErrorContains(t, m.LoadConfig(), "batch_size must not be negative")

	m = NewManager(writeConfig(t, "database:\n  enabled: true\n  port: 0\n"), nil)
	assert.ErrorContains(t, m.LoadConfig(), "database port")
}

func TestFindConfigFilePrefersWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	require.NoError(t, os.WriteFile(localConfigFile, []byte("defaults:\n  batch_size: 32\n"), 0644))

	m := NewManager("", nil)
	require.NoError(t, m.LoadConfig())
	assert.Equal(t, localConfigFile, m.Path())
	assert.Equal(t, 32, m.GetConfig().Defaults.BatchSize)
}

func TestOptionsApplyPrecedence(t *testing.T) {
	o := &Options{ModelPath: "m.gguf", BatchSize: 4}
	o.Apply(Defaults{BatchSize: 16, NumCtxTokens: 1024, Backend: "ollama"})

	assert.Equal(t, 4, o.BatchSize, "explicit value wins")
	assert.Equal(t, 1024, o.NumCtxTokens, "config file beats built-in")
	assert.Equal(t, "ollama", o.Backend)
	assert.Equal(t, DefaultTensorLogInterval, o.TensorLogInterval)
	assert.Equal(t, DefaultOllamaHost, o.OllamaHost)
	assert.Equal(t, PhysicalCores(), o.NumThreads)
	assert.NoError(t, o.Validate())
}

func TestOptionsValidate(t *testing.T) {
	valid := Options{ModelPath: "m", NumThreads: 1, NumCtxTokens: 1, BatchSize: 1, TensorLogInterval: 1}
	require.NoError(t, valid.Validate())

	missing := valid
	missing.ModelPath = ""
	assert.ErrorContains(t, missing.Validate(), "model-path")

	zero := valid
	zero.BatchSize = 0
	assert.ErrorContains(t, zero.Validate(), "batch-size")
}

func TestPhysicalCores(t *testing.T) {
	assert.Positive(t, PhysicalCores())
}

func TestConfigDirHonoursXDG(t *testing.T) {
	if GetConfigDir() == "" {
		t.Fatal("empty config dir")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("APPDATA", dir)
	if p := GetDefaultConfigPath(); filepath.Base(p) != "config.yaml" {
		t.Errorf("unexpected config path %s", p)
	}
}
