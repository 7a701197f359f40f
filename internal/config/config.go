package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/phenorank/internal/embedder"
	"github.com/dshills/phenorank/internal/signature"
	"github.com/dshills/phenorank/internal/storage"
	"github.com/dshills/phenorank/pkg/types"
)

// Environment variables that override file settings
const (
	EnvConfigPath = "PHENORANK_CONFIG"
	EnvDBPath     = "PHENORANK_DB_PATH"
)

// DefaultConfigPath is used when neither a flag nor PHENORANK_CONFIG names a file
const DefaultConfigPath = "phenorank.yaml"

// Config holds all phenorank configuration.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Data        DataConfig        `yaml:"data"`
	Collections CollectionsConfig `yaml:"collections"`
	Build       BuildConfig       `yaml:"build"`
	Query       QueryConfig       `yaml:"query"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
}

// StorageConfig configures the vector store.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// DataConfig points at the annotation and ontology inputs.
type DataConfig struct {
	Annotations     string   `yaml:"annotations"` // phenotype.hpoa
	Ontology        string   `yaml:"ontology"`    // hp.obo
	ClusterRoot     string   `yaml:"cluster_root"`
	Clusters        []string `yaml:"clusters,omitempty"` // Overrides cluster_root
	DiseasePrefixes []string `yaml:"disease_prefixes"`
	ExcludeNegated  bool     `yaml:"exclude_negated"`

	// AnnotationCollection is read when Annotations is empty: records whose
	// metadata carries disease and phenotype, e.g. an imported "hpoa" collection
	AnnotationCollection string `yaml:"annotation_collection,omitempty"`
}

// CollectionsConfig names the vector store collections.
type CollectionsConfig struct {
	Term            string `yaml:"term"`
	Average         string `yaml:"average"`
	Organ           string `yaml:"organ"`
	Metric          string `yaml:"metric"`
	MaxQueryResults int    `yaml:"max_query_results"` // 0 = unlimited
}

// BuildConfig configures signature builds.
type BuildConfig struct {
	BatchSize int `yaml:"batch_size"`
	Workers   int `yaml:"workers"` // 0 = one per CPU
}

// QueryConfig configures ranking queries.
type QueryConfig struct {
	ProbeLowerBound int    `yaml:"probe_lower_bound"`
	CacheSize       int    `yaml:"cache_size"`
	CacheTTL        string `yaml:"cache_ttl"`
}

// EmbeddingConfig configures the term-embedding provider used for ingestion.
type EmbeddingConfig struct {
	Provider  string  `yaml:"provider"` // openai, jina, local
	APIKey    string  `yaml:"api_key"`
	Model     string  `yaml:"model"`
	BaseURL   string  `yaml:"base_url"`
	Dimension int     `yaml:"dimension"` // 0 = provider default
	RateLimit float64 `yaml:"rate_limit"` // Requests per second, 0 = unlimited
	CacheSize int     `yaml:"cache_size"`
	BatchSize int     `yaml:"batch_size"`
	Timeout   string  `yaml:"timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DBPath: "data/phenorank.db",
		},
		Data: DataConfig{
			Annotations:     "data/phenotype.hpoa",
			Ontology:        "data/hp.obo",
			ClusterRoot:     "HP:0000118",
			DiseasePrefixes: []string{"OMIM:"},
		},
		Collections: CollectionsConfig{
			Term:    "ont_hp",
			Average: "average",
			Organ:   "DiseaseOrganEmbeddings",
			Metric:  string(storage.MetricCosine),
		},
		Build: BuildConfig{
			BatchSize: 25,
		},
		Query: QueryConfig{
			ProbeLowerBound: 11700,
			CacheSize:       1000,
			CacheTTL:        "1h",
		},
		Embedding: EmbeddingConfig{
			Provider:  embedder.ProviderLocal,
			RateLimit: 3,
			CacheSize: embedder.DefaultCacheSize,
			BatchSize: embedder.DefaultBatchSize,
			Timeout:   "30s",
		},
	}
}

// ResolvePath returns the config path from the flag value, PHENORANK_CONFIG,
// or DefaultConfigPath, in that order
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultConfigPath
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv(EnvDBPath); path != "" {
		c.Storage.DBPath = path
	}
	if provider := os.Getenv(embedder.EnvProvider); provider != "" {
		c.Embedding.Provider = provider
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path must be set")
	}

	names := map[string]string{
		"collections.term":    c.Collections.Term,
		"collections.average": c.Collections.Average,
		"collections.organ":   c.Collections.Organ,
	}
	seen := make(map[string]string, len(names))
	for _, key := range []string{"collections.term", "collections.average", "collections.organ"} {
		name := names[key]
		if name == "" {
			return fmt.Errorf("%s must be set", key)
		}
		if other, ok := seen[name]; ok {
			return fmt.Errorf("%s and %s both name collection %q", other, key, name)
		}
		seen[name] = key
	}

	if _, err := storage.ParseMetric(c.Collections.Metric); err != nil {
		return fmt.Errorf("collections.metric: %w", err)
	}
	if c.Collections.MaxQueryResults < 0 {
		return fmt.Errorf("collections.max_query_results must be >= 0, got %d", c.Collections.MaxQueryResults)
	}

	if c.Build.BatchSize <= 0 {
		return fmt.Errorf("build.batch_size must be > 0, got %d", c.Build.BatchSize)
	}
	if c.Build.Workers < 0 {
		return fmt.Errorf("build.workers must be >= 0, got %d", c.Build.Workers)
	}

	if c.Query.ProbeLowerBound <= 0 {
		return fmt.Errorf("query.probe_lower_bound must be > 0, got %d", c.Query.ProbeLowerBound)
	}
	if c.Query.CacheSize < 0 {
		return fmt.Errorf("query.cache_size must be >= 0, got %d", c.Query.CacheSize)
	}
	if _, err := parseDuration(c.Query.CacheTTL); err != nil {
		return fmt.Errorf("query.cache_ttl: %w", err)
	}

	if c.Data.Annotations == "" && c.Data.AnnotationCollection == "" {
		return fmt.Errorf("data.annotations or data.annotation_collection must be set")
	}
	if c.Data.ClusterRoot == "" && len(c.Data.Clusters) == 0 {
		return fmt.Errorf("data.cluster_root or data.clusters must be set")
	}
	for _, id := range c.Clusters() {
		if err := id.Validate(); err != nil {
			return fmt.Errorf("data.clusters: %w", err)
		}
	}
	if c.Data.ClusterRoot != "" {
		if err := types.TermID(c.Data.ClusterRoot).Validate(); err != nil {
			return fmt.Errorf("data.cluster_root: %w", err)
		}
	}

	switch strings.ToLower(c.Embedding.Provider) {
	case embedder.ProviderOpenAI, embedder.ProviderJina, embedder.ProviderLocal:
	default:
		return fmt.Errorf("invalid embedding provider: %s (valid: %s, %s, %s)", c.Embedding.Provider,
			embedder.ProviderOpenAI, embedder.ProviderJina, embedder.ProviderLocal)
	}
	if c.Embedding.RateLimit < 0 {
		return fmt.Errorf("embedding.rate_limit must be >= 0, got %g", c.Embedding.RateLimit)
	}
	if c.Embedding.BatchSize < 0 || c.Embedding.BatchSize > embedder.MaxBatchSize {
		return fmt.Errorf("embedding.batch_size must be between 0 and %d, got %d", embedder.MaxBatchSize, c.Embedding.BatchSize)
	}
	if _, err := parseDuration(c.Embedding.Timeout); err != nil {
		return fmt.Errorf("embedding.timeout: %w", err)
	}

	return nil
}

// Clusters returns the explicit cluster list as term IDs
func (c *Config) Clusters() []types.TermID {
	return types.ParseTerms(c.Data.Clusters)
}

// Metric returns the configured collection metric
func (c *Config) Metric() storage.Metric {
	m, err := storage.ParseMetric(c.Collections.Metric)
	if err != nil {
		return storage.MetricCosine
	}
	return m
}

// CollectionFor returns the collection holding signatures of the given kind
func (c *Config) CollectionFor(kind signature.Kind) string {
	if kind == signature.KindOrgan {
		return c.Collections.Organ
	}
	return c.Collections.Average
}

// GetCacheTTL returns the ranking cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	d, err := parseDuration(c.Query.CacheTTL)
	if err != nil || d == 0 {
		return time.Hour
	}
	return d
}

// GetEmbeddingTimeout returns the embedding request timeout as a duration.
func (c *Config) GetEmbeddingTimeout() time.Duration {
	d, err := parseDuration(c.Embedding.Timeout)
	if err != nil || d == 0 {
		return 30 * time.Second
	}
	return d
}

// EmbedderConfig converts the embedding section for embedder.New
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:          c.Embedding.Provider,
		APIKey:            c.Embedding.APIKey,
		Model:             c.Embedding.Model,
		BaseURL:           c.Embedding.BaseURL,
		Dimension:         c.Embedding.Dimension,
		CacheSize:         c.Embedding.CacheSize,
		RequestsPerSecond: c.Embedding.RateLimit,
		Timeout:           c.GetEmbeddingTimeout(),
	}
}

// parseDuration accepts an empty string as zero
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0, got %s", s)
	}
	return d, nil
}
