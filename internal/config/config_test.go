package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/phenorank/internal/embedder"
	"github.com/dshills/phenorank/internal/signature"
	"github.com/dshills/phenorank/internal/storage"
	"github.com/dshills/phenorank/pkg/types"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ont_hp", cfg.Collections.Term)
	assert.Equal(t, "average", cfg.Collections.Average)
	assert.Equal(t, "DiseaseOrganEmbeddings", cfg.Collections.Organ)
	assert.Equal(t, 25, cfg.Build.BatchSize)
	assert.Equal(t, 11700, cfg.Query.ProbeLowerBound)
	assert.Equal(t, storage.MetricCosine, cfg.Metric())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvDBPath, "")
	t.Setenv(embedder.EnvProvider, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_OverlaysFile(t *testing.T) {
	t.Setenv(EnvDBPath, "")
	t.Setenv(embedder.EnvProvider, "")

	path := filepath.Join(t.TempDir(), "phenorank.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  db_path: /var/lib/phenorank.db
collections:
  metric: l2
  max_query_results: 5000
query:
  probe_lower_bound: 100
  cache_ttl: 10m
data:
  clusters: ["HP:0000707", "HP:0000478"]
embedding:
  provider: jina
  rate_limit: 1.5
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/phenorank.db", cfg.Storage.DBPath)
	assert.Equal(t, storage.MetricL2, cfg.Metric())
	assert.Equal(t, 5000, cfg.Collections.MaxQueryResults)
	assert.Equal(t, 100, cfg.Query.ProbeLowerBound)
	assert.Equal(t, 10*time.Minute, cfg.GetCacheTTL())
	assert.Equal(t, []types.TermID{"HP:0000707", "HP:0000478"}, cfg.Clusters())
	assert.Equal(t, embedder.ProviderJina, cfg.Embedding.Provider)
	assert.InDelta(t, 1.5, cfg.EmbedderConfig().RequestsPerSecond, 1e-9)

	// Untouched sections keep their defaults
	assert.Equal(t, "ont_hp", cfg.Collections.Term)
	assert.Equal(t, 25, cfg.Build.BatchSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDBPath, "/tmp/override.db")
	t.Setenv(embedder.EnvProvider, "openai")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Storage.DBPath)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unterminated"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv(EnvDBPath, "")
	t.Setenv(embedder.EnvProvider, "")

	path := filepath.Join(t.TempDir(), "nested", "phenorank.yaml")
	cfg := DefaultConfig()
	cfg.Query.ProbeLowerBound = 42
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty db path", mutate: func(c *Config) { c.Storage.DBPath = "" }},
		{name: "empty term collection", mutate: func(c *Config) { c.Collections.Term = "" }},
		{name: "duplicate collections", mutate: func(c *Config) { c.Collections.Organ = c.Collections.Average }},
		{name: "unknown metric", mutate: func(c *Config) { c.Collections.Metric = "manhattan" }},
		{name: "negative ceiling", mutate: func(c *Config) { c.Collections.MaxQueryResults = -1 }},
		{name: "zero batch size", mutate: func(c *Config) { c.Build.BatchSize = 0 }},
		{name: "negative workers", mutate: func(c *Config) { c.Build.Workers = -2 }},
		{name: "zero probe lower bound", mutate: func(c *Config) { c.Query.ProbeLowerBound = 0 }},
		{name: "bad cache ttl", mutate: func(c *Config) { c.Query.CacheTTL = "soon" }},
		{name: "no annotation source", mutate: func(c *Config) { c.Data.Annotations = "" }},
		{name: "no cluster source", mutate: func(c *Config) { c.Data.ClusterRoot = ""; c.Data.Clusters = nil }},
		{name: "malformed cluster", mutate: func(c *Config) { c.Data.Clusters = []string{"HP0000707"} }},
		{name: "unknown provider", mutate: func(c *Config) { c.Embedding.Provider = "cohere" }},
		{name: "negative rate limit", mutate: func(c *Config) { c.Embedding.RateLimit = -1 }},
		{name: "oversized embedding batch", mutate: func(c *Config) { c.Embedding.BatchSize = embedder.MaxBatchSize + 1 }},
		{name: "negative timeout", mutate: func(c *Config) { c.Embedding.Timeout = "-1s" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCollectionFor(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "average", cfg.CollectionFor(signature.KindAverage))
	assert.Equal(t, "DiseaseOrganEmbeddings", cfg.CollectionFor(signature.KindOrgan))
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultConfigPath, ResolvePath(""))
	assert.Equal(t, "flag.yaml", ResolvePath("flag.yaml"))

	t.Setenv(EnvConfigPath, "env.yaml")
	assert.Equal(t, "env.yaml", ResolvePath(""))
	assert.Equal(t, "flag.yaml", ResolvePath("flag.yaml"))
}
