package embedder

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Environment variables consulted by NewFromEnv and DetectProvider
const (
	EnvProvider     = "PHENORANK_EMBEDDING_PROVIDER"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	Provider          string
	APIKey            string        // Falls back to the provider's environment variable
	Model             string        // Defaults per provider
	BaseURL           string        // Overrides the provider endpoint
	Dimension         int           // Expected dimension; required for custom remote models
	CacheSize         int           // 0 disables caching
	RequestsPerSecond float64       // 0 disables rate limiting
	Timeout           time.Duration // HTTP timeout for remote providers
	Logger            *zap.Logger
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case ProviderOpenAI:
		return newRemoteProvider(remoteOptions{
			provider:          ProviderOpenAI,
			apiKey:            firstNonEmpty(cfg.APIKey, os.Getenv(EnvOpenAIAPIKey)),
			model:             firstNonEmpty(cfg.Model, DefaultOpenAIModel),
			url:               firstNonEmpty(cfg.BaseURL, DefaultOpenAIURL),
			dimension:         dimensionFor(cfg, DefaultOpenAIModel, OpenAIDimension),
			timeout:           cfg.Timeout,
			requestsPerSecond: cfg.RequestsPerSecond,
			cache:             cache,
			logger:            cfg.Logger,
		})
	case ProviderJina:
		return newRemoteProvider(remoteOptions{
			provider:          ProviderJina,
			apiKey:            firstNonEmpty(cfg.APIKey, os.Getenv(EnvJinaAPIKey)),
			model:             firstNonEmpty(cfg.Model, DefaultJinaModel),
			url:               firstNonEmpty(cfg.BaseURL, DefaultJinaURL),
			dimension:         dimensionFor(cfg, DefaultJinaModel, JinaDimension),
			timeout:           cfg.Timeout,
			requestsPerSecond: cfg.RequestsPerSecond,
			cache:             cache,
			logger:            cfg.Logger,
		})
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension, cache), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, cfg.Provider)
	}
}

// NewFromEnv creates an embedder based on environment variables
func NewFromEnv() (Embedder, error) {
	return New(Config{
		Provider:  DetectProvider(),
		CacheSize: DefaultCacheSize,
	})
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	if provider := os.Getenv(EnvProvider); provider != "" {
		return strings.ToLower(provider)
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	return ProviderLocal
}

// dimensionFor uses the configured dimension, the known default for the
// default model, or 0 (unchecked) for unknown models
func dimensionFor(cfg Config, defaultModel string, defaultDim int) int {
	if cfg.Dimension > 0 {
		return cfg.Dimension
	}
	if cfg.Model == "" || cfg.Model == defaultModel {
		return defaultDim
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
