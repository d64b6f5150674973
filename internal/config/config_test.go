package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROJMEM_DATA_DIR", dir)
	t.Setenv("PROJMEM_CONFIG", filepath.Join(dir, "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8742, cfg.Port)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 5, cfg.StoreCacheSize)
	assert.Equal(t, 3, cfg.VectorCacheSize)
	assert.Equal(t, 100, cfg.VectorBatchSize)
	assert.Equal(t, 2000, cfg.VectorChunkSize)
	assert.InDelta(t, 0.70, cfg.SimilarityThreshold, 1e-9)
	assert.InDelta(t, 0.5, cfg.KeywordBaseline, 1e-9)
	assert.Equal(t, BackendChroma, cfg.VectorBackend)
	assert.Equal(t, filepath.Join(dir, "projects.json"), cfg.RegistryPath())
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
port: 9000
store_cache_size: 7
vector_backend: embedded
vector_call_timeout: 5s
vector_args: ["chroma-mcp", "--client-type", "ephemeral"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("PROJMEM_DATA_DIR", dir)
	t.Setenv("STORE_CACHE_SIZE", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 2, cfg.StoreCacheSize, "env overrides file")
	assert.Equal(t, BackendEmbedded, cfg.VectorBackend)
	assert.Equal(t, 5*time.Second, cfg.VectorCallTimeout)
	assert.Equal(t, []string{"chroma-mcp", "--client-type", "ephemeral"}, cfg.VectorArgs)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"zero store cache", func(c *Config) { c.StoreCacheSize = 0 }},
		{"unknown backend", func(c *Config) { c.VectorBackend = "qdrant" }},
		{"threshold above one", func(c *Config) { c.SimilarityThreshold = 1.5 }},
		{"tiny chunks", func(c *Config) { c.VectorChunkSize = 10 }},
		{"no timeout", func(c *Config) { c.VectorCallTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}

	assert.NoError(t, Defaults().validate())
}

func TestEnvFields(t *testing.T) {
	t.Setenv("VECTOR_ARGS", "  chroma-mcp   --data-dir {data_dir} ")
	assert.Equal(t, []string{"chroma-mcp", "--data-dir", "{data_dir}"}, envFields("VECTOR_ARGS", nil))
}
